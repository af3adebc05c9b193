package client

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

// LogTracker follows a service's current log file, switching to the
// daemon's newest file when the followed one is removed or renamed (spec
// §4.4 rotation, grounded on the original client log tracker).
type LogTracker struct {
	service  string
	client   *Client
	w        io.Writer
	file     *os.File
	filename string
	watcher  *fsnotify.Watcher
}

// NewLogTracker opens filename and arms an fsnotify watch on it.
func NewLogTracker(service string, c *Client, w io.Writer, filename string) (*LogTracker, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := watcher.Add(filename); err != nil {
		_ = f.Close()
		_ = watcher.Close()
		return nil, err
	}
	return &LogTracker{service: service, client: c, w: w, file: f, filename: filename, watcher: watcher}, nil
}

// Close releases the tracker's file handle and watcher.
func (t *LogTracker) Close() error {
	_ = t.watcher.Close()
	return t.file.Close()
}

// Follow copies new bytes to w as they are written. When the followed file
// is removed or renamed, it asks the daemon (`list-log-files`) for the
// newest file and switches to it; a new file the daemon opens while the
// followed one still exists is not picked up. It runs until an
// unrecoverable error occurs or stop is closed.
func (t *LogTracker) Follow(stop <-chan struct{}) error {
	if _, err := io.Copy(t.w, t.file); err != nil {
		return err
	}
	for {
		select {
		case <-stop:
			return nil
		case ev, ok := <-t.watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Write != 0 {
				if _, err := io.Copy(t.w, t.file); err != nil {
					return err
				}
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				if err := t.rotate(); err != nil {
					return err
				}
			}
		case err, ok := <-t.watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("client: log tracker: %w", err)
		}
	}
}

// rotate asks the daemon for the current log file list and, if it differs
// from the one we have open, switches to it.
func (t *LogTracker) rotate() error {
	var files []string
	if err := t.client.InvokeInto(Request{Action: "list-log-files", Service: t.service}, 30*time.Second, &files); err != nil {
		return err
	}
	if len(files) == 0 {
		time.Sleep(3 * time.Second)
		return nil
	}
	latest := files[len(files)-1]
	if latest == t.filename {
		return nil
	}
	_ = t.watcher.Remove(t.filename)
	_ = t.file.Close()

	f, err := os.Open(latest)
	if err != nil {
		return err
	}
	t.file = f
	t.filename = latest
	if err := t.watcher.Add(latest); err != nil {
		return err
	}
	_, err = io.Copy(t.w, t.file)
	return err
}

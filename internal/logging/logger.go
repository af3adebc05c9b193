package logging

import (
	"fmt"
	"io"
	"sync"

	"github.com/loykin/ppm/internal/poller"
	"golang.org/x/sys/unix"
)

// Logger is the daemon's dedicated logger thread (spec §4.4). It owns one
// pump per service and drives them all from a single poller.Poller,
// applying flow control: a pump with buffered-but-unwritten output is
// polled for write-readiness instead of read-readiness, so a slow disk
// never causes the daemon to read child output faster than it can be
// persisted.
type Logger struct {
	cfg Config

	mu    sync.Mutex
	pumps map[int64]*pump

	p *poller.Poller
	w *poller.PollerWriter
}

// NewLogger starts the logger thread's poller; callers must call Run in a
// dedicated goroutine.
func NewLogger(cfg Config) (*Logger, error) {
	p, w, err := poller.New()
	if err != nil {
		return nil, fmt.Errorf("logging: new poller: %w", err)
	}
	return &Logger{cfg: cfg, pumps: make(map[int64]*pump), p: p, w: w}, nil
}

// MakeInput implements service.LogProvider: it lazily creates the named
// service's LogFile/pump on first use and returns a fresh pipe pair. A nil
// *Logger returns no pipes, so the child inherits the daemon's own
// stdout/stderr.
func (l *Logger) MakeInput(serviceID int64) (stdout, stderr io.WriteCloser, err error) {
	if l == nil {
		return nil, nil, nil
	}
	pm, err := l.pumpFor(serviceID)
	if err != nil {
		return nil, nil, err
	}
	outW, errW, err := pm.makeInput()
	if err != nil {
		return nil, nil, err
	}
	l.w.Wake()
	return outW, errW, nil
}

func (l *Logger) pumpFor(serviceID int64) (*pump, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if pm, ok := l.pumps[serviceID]; ok {
		return pm, nil
	}
	f, err := NewLogFile(l.cfg, serviceName(serviceID))
	if err != nil {
		return nil, err
	}
	pm := newPump(serviceID, f)
	l.pumps[serviceID] = pm
	return pm, nil
}

// serviceName is a fallback file stem; callers that know the service's
// configured name should use RegisterName first.
func serviceName(id int64) string {
	return fmt.Sprintf("service-%d", id)
}

// RegisterName gives the pump for id the service's configured name instead
// of the numeric fallback, if the pump has not opened a file yet.
func (l *Logger) RegisterName(id int64, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.pumps[id]; ok {
		return nil
	}
	f, err := NewLogFile(l.cfg, name)
	if err != nil {
		return err
	}
	l.pumps[id] = newPump(id, f)
	return nil
}

// Remove closes and drops the pump for a service that has been removed
// from the daemon (spec §4.6 remove action).
func (l *Logger) Remove(serviceID int64) {
	l.mu.Lock()
	pm, ok := l.pumps[serviceID]
	delete(l.pumps, serviceID)
	l.mu.Unlock()
	if ok {
		pm.close()
	}
	l.w.Wake()
}

// Close requests the Run loop to exit and releases the self-pipe.
func (l *Logger) Close() {
	l.w.Exit()
}

type fdEntry struct {
	pm  *pump
	fd  int
	out bool // true: this entry is the pump's LogFile fd, not an input pipe
}

// Run drives the poll loop described in spec §4.4: build the poll set (for
// each pump, poll its LogFile fd for OUT|ERR if it has pending output,
// otherwise poll its input pipes for IN|ERR), wait, dispatch, repeat. It
// returns when the Logger is closed.
func (l *Logger) Run() error {
	defer l.p.Close()
	for {
		entries, staleWithoutFd := l.buildPollSet()

		var fds []unix.PollFd
		for _, e := range entries {
			var events int16 = unix.POLLERR
			if e.out {
				events |= unix.POLLOUT
			} else {
				events |= unix.POLLIN | unix.POLLHUP
			}
			fds = append(fds, unix.PollFd{Fd: int32(e.fd), Events: events})
		}

		timeout := -1
		if staleWithoutFd {
			// A pump has pending output but its LogFile hasn't opened a
			// descriptor yet (no write has rotated one into existence);
			// retry shortly instead of blocking indefinitely.
			timeout = 50
		}

		word, err := l.p.Poll(fds, timeout)
		if err != nil {
			return fmt.Errorf("logging: poll: %w", err)
		}
		switch word {
		case poller.Exit:
			l.closeAll()
			return nil
		case poller.Wake:
			continue // rebuild the poll set on the next iteration
		}

		for i, pf := range fds {
			if pf.Revents == 0 {
				continue
			}
			e := entries[i]
			if e.out {
				if pf.Revents&(unix.POLLOUT|unix.POLLERR) != 0 {
					e.pm.onOutputReady()
				}
				continue
			}
			if pf.Revents&(unix.POLLIN) != 0 {
				e.pm.onInputReady(e.fd)
			}
			if pf.Revents&(unix.POLLHUP|unix.POLLERR) != 0 {
				e.pm.onHup(e.fd)
			}
		}
		if staleWithoutFd {
			l.flushStaleWithoutFd()
		}
	}
}

// buildPollSet returns the fd set to poll plus whether any pump has
// pending output but no LogFile descriptor yet to poll for it.
func (l *Logger) buildPollSet() ([]fdEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var entries []fdEntry
	staleWithoutFd := false
	for _, pm := range l.pumps {
		if pm.hasPending() {
			if fd, ok := pm.outputFd(); ok {
				entries = append(entries, fdEntry{pm: pm, fd: fd, out: true})
			} else {
				staleWithoutFd = true
			}
			continue
		}
		for _, fd := range pm.inputFds() {
			entries = append(entries, fdEntry{pm: pm, fd: fd})
		}
	}
	return entries, staleWithoutFd
}

func (l *Logger) flushStaleWithoutFd() {
	l.mu.Lock()
	pumps := make([]*pump, 0, len(l.pumps))
	for _, pm := range l.pumps {
		pumps = append(pumps, pm)
	}
	l.mu.Unlock()
	for _, pm := range pumps {
		if _, ok := pm.outputFd(); !ok && pm.hasPending() {
			pm.onOutputReady()
		}
	}
}

func (l *Logger) closeAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, pm := range l.pumps {
		pm.close()
	}
}

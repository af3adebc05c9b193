// Package logging implements the per-service rotating log file, the pump
// that drains a child's stdout/stderr pipes into it, and the dedicated
// logger thread that polls every service's pumps (spec §4.4).
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// Config mirrors the configuration file's `logger:` block (spec §6).
type Config struct {
	Dir         string
	MaxFiles    int // spec default 3
	MaxFileSize int // bytes, spec default 20 MiB
}

func (c Config) maxFiles() int {
	if c.MaxFiles <= 0 {
		return 3
	}
	return c.MaxFiles
}

func (c Config) maxFileSize() int64 {
	if c.MaxFileSize <= 0 {
		return 20 * 1024 * 1024
	}
	return int64(c.MaxFileSize)
}

// logfileSuffix matches the RFC3339-seconds-with-offset stamp spec §4.4
// appends to a rotated file's name: `-2006-01-02T15:04:05+07:00.log`.
var logfileSuffix = regexp.MustCompile(`^-\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}[+-]\d{2}:\d{2}\.log$`)

// LogFile is a single rotating output stream for one service. Both stdout
// and stderr pipes are interleaved into it by the owning LogPump, matching
// spec §4.4 ("one LogFile (output)" per pump).
//
// Rotation is counted in exact bytes and filenames carry an RFC3339
// timestamp rather than a numeric backup suffix (spec §4.4, §6, §8
// property E), which lumberjack cannot produce — its MaxSize is
// megabyte-floored and its backup names are index-suffixed, not
// timestamped — so this is hand-rolled directly against
// original_source/src/monitor/logger/logfile.rs's byte-counted
// `write`/`rotate` pair instead of wrapped around a third-party rotator.
type LogFile struct {
	dir      string
	name     string
	maxSize  int64
	maxFiles int

	file    *os.File
	written int64
}

// NewLogFile prepares name's rotating log file under cfg.Dir. The first
// Write performs the initial rotate/reopen (spec §4.4 "On restart of the
// daemon, reopen the most recent file for append if it's under the size
// cap; otherwise open a new one").
func NewLogFile(cfg Config, name string) (*LogFile, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("logging: no directory configured")
	}
	return &LogFile{dir: cfg.Dir, name: name, maxSize: cfg.maxFileSize(), maxFiles: cfg.maxFiles()}, nil
}

// Fd returns the descriptor of the currently open file, if one has been
// opened yet (it hasn't until the first Write/rotate). The Logger thread
// polls this for OUT|ERR while the owning pump has pending output (spec
// §4.4 Logger thread step 1).
func (f *LogFile) Fd() (int, bool) {
	if f.file == nil {
		return 0, false
	}
	return int(f.file.Fd()), true
}

func (f *LogFile) matches(filename string) bool {
	if !strings.HasPrefix(filename, f.name+"-") {
		return false
	}
	return logfileSuffix.MatchString(filename[len(f.name):])
}

// makeFilename builds the `<service>-<RFC3339-seconds-with-offset>.log`
// name for a freshly rotated file (spec §4.4, §6).
func (f *LogFile) makeFilename() string {
	return fmt.Sprintf("%s-%s.log", f.name, time.Now().Format("2006-01-02T15:04:05-07:00"))
}

// listFiles returns every on-disk file belonging to this LogFile, oldest
// first (lexicographic sort is correct: the RFC3339 stamp is fixed-width
// and zero-padded).
func (f *LogFile) listFiles() ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("logging: read dir %s: %w", f.dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if f.matches(e.Name()) {
			out = append(out, filepath.Join(f.dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// rotate opens a file for writing if none is open yet or writing incoming
// more bytes would take the current one past max_size (an empty file takes
// a write of any size). With no file open yet it reopens the most recent
// on-disk file for append if still under the cap; otherwise it prunes down
// to max_files-1 and creates a new timestamped file (spec §4.4 "LogFile").
func (f *LogFile) rotate(incoming int) error {
	if f.file != nil && (f.written == 0 || f.written+int64(incoming) <= f.maxSize) {
		return nil
	}
	files, err := f.listFiles()
	if err != nil {
		return err
	}

	if n := len(files); f.file == nil && n > 0 {
		last := files[n-1]
		if info, statErr := os.Stat(last); statErr == nil && info.Size() < f.maxSize {
			file, openErr := os.OpenFile(last, os.O_WRONLY|os.O_APPEND, 0o644)
			if openErr != nil {
				f.file = nil
				return fmt.Errorf("logging: reopen %s: %w", last, openErr)
			}
			if err := unix.SetNonblock(int(file.Fd()), true); err != nil {
				_ = file.Close()
				f.file = nil
				return fmt.Errorf("logging: set nonblocking %s: %w", last, err)
			}
			if f.file != nil {
				_ = f.file.Close()
			}
			f.file = file
			f.written = info.Size()
			return nil
		}
	}

	if n := len(files) - (f.maxFiles - 1); n > 0 {
		for _, stale := range files[:n] {
			_ = os.Remove(stale)
		}
	}

	path := filepath.Join(f.dir, f.makeFilename())
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		f.file = nil
		return fmt.Errorf("logging: open %s: %w", path, err)
	}
	if err := unix.SetNonblock(int(file.Fd()), true); err != nil {
		_ = file.Close()
		f.file = nil
		return fmt.Errorf("logging: set nonblocking %s: %w", path, err)
	}
	if f.file != nil {
		_ = f.file.Close()
	}
	f.file = file
	f.written = 0
	return nil
}

func (f *LogFile) Write(p []byte) (int, error) {
	if err := f.rotate(len(p)); err != nil {
		return 0, err
	}
	n, err := f.file.Write(p)
	f.written += int64(n)
	return n, err
}

func (f *LogFile) Close() error {
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}

var _ io.WriteCloser = (*LogFile)(nil)

// ListFiles returns every on-disk log file for name under dir, oldest
// first (spec §6 "Persisted state layout", used by the control server's
// `list-log-files`/`logs` actions).
func ListFiles(dir, name string) ([]string, error) {
	f := &LogFile{dir: dir, name: name}
	return f.listFiles()
}

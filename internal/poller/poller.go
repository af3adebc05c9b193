// Package poller wraps poll(2) with a self-pipe, giving the watcher and
// logger worker threads a way to block on a set of file descriptors while
// remaining interruptible from any other goroutine (spec §4.2).
package poller

import (
	"os"

	"golang.org/x/sys/unix"
)

// Flags mirror the poll(2) event bits the spec calls out.
const (
	In   = unix.POLLIN
	Out  = unix.POLLOUT
	Err  = unix.POLLERR
	Hup  = unix.POLLHUP
	NVal = unix.POLLNVAL
)

// WakeWord is the classification of a byte read off the self-pipe.
type WakeWord int

const (
	None WakeWord = iota
	Wake
	Exit
)

const (
	byteWake byte = 'w'
	byteExit byte = 'x'
)

// Poller polls an externally supplied fd list plus an internal self-pipe.
// The reader half (the Poller itself) must only be used from one goroutine;
// the writer half (PollerWriter) is safe to share with any number of
// producers.
type Poller struct {
	r *os.File
}

// PollerWriter is the shared producer side of a Poller's self-pipe.
type PollerWriter struct {
	w *os.File
}

// New creates a Poller/PollerWriter pair connected by an os.Pipe self-pipe.
func New() (*Poller, *PollerWriter, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, nil, err
	}
	return &Poller{r: r}, &PollerWriter{w: w}, nil
}

// Wake injects a Wake word, asking Poll to return so the caller can rebuild
// its fd set (e.g. the Logger thread's pump map changed).
func (w *PollerWriter) Wake() error {
	_, err := w.w.Write([]byte{byteWake})
	return err
}

// Exit injects an Exit word, asking the poll loop to stop.
func (w *PollerWriter) Exit() error {
	_, err := w.w.Write([]byte{byteExit})
	return err
}

// Send writes a single arbitrary byte to the self-pipe.
func (w *PollerWriter) Send(b byte) error {
	_, err := w.w.Write([]byte{b})
	return err
}

// Close closes the writer half.
func (w *PollerWriter) Close() error { return w.w.Close() }

// Poll appends the self-pipe to fds, invokes poll(2) with timeoutMs
// (negative blocks indefinitely), strips the self-pipe entry from fds
// before returning, and classifies a self-pipe fire as Wake or Exit.
func (p *Poller) Poll(fds []unix.PollFd, timeoutMs int) (WakeWord, error) {
	self := unix.PollFd{Fd: int32(p.r.Fd()), Events: In}
	all := append(fds, self)
	n, err := unix.Poll(all, timeoutMs)
	copy(fds, all[:len(fds)])
	if err != nil {
		return None, err
	}
	if n == 0 {
		return None, nil
	}
	selfEv := all[len(all)-1]
	if selfEv.Revents&(In|Err|Hup) == 0 {
		return None, nil
	}
	buf := make([]byte, 1)
	if _, err := p.r.Read(buf); err != nil {
		return None, err
	}
	switch buf[0] {
	case byteExit:
		return Exit, nil
	default:
		return Wake, nil
	}
}

// Close closes the reader half.
func (p *Poller) Close() error { return p.r.Close() }

package logging

import (
	"os"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

const readChunk = 64 * 1024

// pump is the per-service pump state: two pipe read ends, one LogFile, and
// a pending buffer for short writes (spec §4.4 LogPump).
type pump struct {
	serviceID int64
	file      *LogFile

	mu      sync.Mutex
	stdoutR *os.File
	stderrR *os.File
	pending []byte
}

func newPump(id int64, file *LogFile) *pump {
	return &pump{serviceID: id, file: file}
}

// makeInput fabricates a fresh stdout/stderr pipe pair, keeps the read
// ends for polling, and returns the write ends for the about-to-spawn
// child (spec §4.4 LogPump.make_input).
func (p *pump) makeInput() (stdoutW, stderrW *os.File, err error) {
	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, nil, err
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		_ = outR.Close()
		_ = outW.Close()
		return nil, nil, err
	}
	if err := unix.SetNonblock(int(outR.Fd()), true); err != nil {
		return nil, nil, err
	}
	if err := unix.SetNonblock(int(errR.Fd()), true); err != nil {
		return nil, nil, err
	}

	p.mu.Lock()
	if p.stdoutR != nil {
		_ = p.stdoutR.Close()
	}
	if p.stderrR != nil {
		_ = p.stderrR.Close()
	}
	p.stdoutR = outR
	p.stderrR = errR
	p.mu.Unlock()
	return outW, errW, nil
}

// hasPending reports whether a pending buffer exists, used by the Logger
// loop to decide whether to poll input fds or the output side (flow
// control, spec §4.4 Logger thread step 1).
func (p *pump) hasPending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending) > 0
}

// outputFd returns the pump's LogFile descriptor, used by the Logger loop
// to poll for OUT|ERR readiness while a pending buffer exists instead of
// a bare retry timeout (spec §4.4 Logger thread step 1).
func (p *pump) outputFd() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.file.Fd()
}

func (p *pump) inputFds() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	var fds []int
	if p.stdoutR != nil {
		fds = append(fds, int(p.stdoutR.Fd()))
	}
	if p.stderrR != nil {
		fds = append(fds, int(p.stderrR.Fd()))
	}
	return fds
}

// onInputReady reads from fd and writes into the LogFile, retaining any
// unwritten tail in the pending buffer on a short write (spec §4.4
// on_input_ready).
func (p *pump) onInputReady(fd int) {
	var f *os.File
	p.mu.Lock()
	if p.stdoutR != nil && int(p.stdoutR.Fd()) == fd {
		f = p.stdoutR
	} else if p.stderrR != nil && int(p.stderrR.Fd()) == fd {
		f = p.stderrR
	}
	p.mu.Unlock()
	if f == nil {
		return
	}
	buf := make([]byte, readChunk)
	n, err := f.Read(buf)
	if n > 0 {
		p.write(buf[:n])
	}
	if err != nil {
		if err == syscall.EAGAIN {
			return
		}
		p.onHup(fd)
	}
}

// onOutputReady flushes any pending buffer to the LogFile.
func (p *pump) onOutputReady() {
	p.mu.Lock()
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()
	if len(pending) > 0 {
		p.write(pending)
	}
}

func (p *pump) write(b []byte) {
	n, err := p.file.Write(b)
	if err != nil || n < len(b) {
		// Transient I/O (spec §7): retain the unwritten tail and retry on
		// a later poll cycle instead of blocking or dropping data.
		p.mu.Lock()
		p.pending = append(p.pending, b[n:]...)
		p.mu.Unlock()
	}
}

// onHup removes fd from the pump's input list (child side closed its end).
func (p *pump) onHup(fd int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stdoutR != nil && int(p.stdoutR.Fd()) == fd {
		_ = p.stdoutR.Close()
		p.stdoutR = nil
	}
	if p.stderrR != nil && int(p.stderrR.Fd()) == fd {
		_ = p.stderrR.Close()
		p.stderrR = nil
	}
}

func (p *pump) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stdoutR != nil {
		_ = p.stdoutR.Close()
		p.stdoutR = nil
	}
	if p.stderrR != nil {
		_ = p.stderrR.Close()
		p.stderrR = nil
	}
	_ = p.file.Close()
}

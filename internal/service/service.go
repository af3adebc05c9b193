// Package service implements the per-service state machine, spawn/stop
// contracts and stats snapshots (spec §3 Service, §4.3).
package service

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// LogProvider is implemented by the logging package's Logger: it hands a
// fresh stdout/stderr pipe write-end pair to a Service about to spawn
// (spec §4.3 step 3, §4.4 LogPump.make_input).
type LogProvider interface {
	MakeInput(serviceID int64) (stdout, stderr io.WriteCloser, err error)
}

// Service is a managed child process with identity and lifecycle (spec
// §3). Identity (ID, Name) is immutable; everything else lives behind mu
// and is exposed only through Info()/Stats() snapshots.
type Service struct {
	id   int64
	name string

	// opLock serializes the lifecycle operations (Restart/Stop) that the
	// spec requires be totally ordered per service (§5 "state transitions
	// are totally ordered by its internal lock"). It is distinct from mu,
	// which only ever guards the cheap snapshot fields, so a long Stop()
	// does not block concurrent Info()/Stats() reads.
	opLock sync.Mutex

	mu        sync.Mutex
	spec      Spec
	status    Status
	active    bool
	pid       int
	startTime time.Time
	endTime   time.Time
	restarts  int
	crashed   int
	stats     Stats

	cmd       *exec.Cmd
	outCloser io.WriteCloser
	errCloser io.WriteCloser
}

func New(id int64, spec Spec) *Service {
	return &Service{id: id, name: spec.Name, spec: spec, status: Created}
}

func (s *Service) ID() int64    { return s.id }
func (s *Service) Name() string { return s.name }

func (s *Service) UpdateSpec(spec Spec) {
	s.mu.Lock()
	s.spec = spec
	s.mu.Unlock()
}

func (s *Service) Spec() Spec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spec
}

// Info returns an immutable snapshot of the runtime fields.
func (s *Service) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := Info{ID: s.id, Name: s.name, Status: s.status, Active: s.active, PID: s.pid, Restarts: s.restarts, Crashed: s.crashed}
	if !s.startTime.IsZero() {
		info.StartTime = Time{Set: true, Value: s.startTime.UnixNano()}
	}
	if !s.endTime.IsZero() {
		info.EndTime = Time{Set: true, Value: s.endTime.UnixNano()}
	}
	return info
}

// Stats returns the latest resource-usage snapshot.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// SetStats is called by the monitor's Sysinfo refresh.
func (s *Service) SetStats(st Stats) {
	s.mu.Lock()
	s.stats = st
	s.mu.Unlock()
}

// pidOrZero returns the current pid, 0 if unset.
func (s *Service) pidOrZero() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pid
}

// enterRunning applies the "entering Running" bookkeeping from §4.3: sets
// start_time, clears end_time, and increments restarts. The crashed
// counter itself is bumped at the moment a service *enters* Crashed (see
// ApplyExit), not on this re-entry into Running; re-entering from Crashed
// therefore leaves crashed untouched, while entering from any other state
// resets it to 0. Entering Running from Stopped (SIGCONT) does none of
// this and is handled separately by ApplyExit's Continued case.
func (s *Service) enterRunning(fromCrashed bool) {
	s.status = Running
	s.startTime = time.Now()
	s.endTime = time.Time{}
	s.restarts++
	if !fromCrashed {
		s.crashed = 0
	}
}

// Restart implements the spawn contract (spec §4.3 "Spawn contract").
// launcherPath is the ppm-launcher executable; logger is optional (nil
// means the child inherits the daemon's own stdout/stderr).
func (s *Service) Restart(launcherPath string, logger LogProvider) error {
	s.opLock.Lock()
	defer s.opLock.Unlock()

	if s.pidOrZero() != 0 {
		s.stopLocked()
	}

	s.mu.Lock()
	spec := s.spec
	fromCrashed := s.status == Crashed
	s.mu.Unlock()

	var outW, errW io.WriteCloser
	var stdout, stderr *os.File
	if logger != nil {
		var err error
		outW, errW, err = logger.MakeInput(s.id)
		if err != nil {
			return fmt.Errorf("service %s: log pipe setup: %w", s.name, err)
		}
		if f, ok := outW.(*os.File); ok {
			stdout = f
		}
		if f, ok := errW.(*os.File); ok {
			stderr = f
		}
	}

	args := append([]string{spec.Command.Path}, spec.Command.Args...)
	cmd := exec.Command(launcherPath, args...)
	cmd.Dir = spec.WorkDir
	if environ := spec.Command.Environ(); environ != nil {
		cmd.Env = environ
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if stdout != nil {
		cmd.Stdout = stdout
	} else {
		cmd.Stdout = os.Stdout
	}
	if stderr != nil {
		cmd.Stderr = stderr
	} else {
		cmd.Stderr = os.Stderr
	}
	cmd.Stdin = nil

	if err := cmd.Start(); err != nil {
		// Fatal conditions: spawn failure is logged but not fatal, and
		// leaves the service in its previous state (spec §4.3, §7).
		if outW != nil {
			_ = outW.Close()
		}
		if errW != nil {
			_ = errW.Close()
		}
		return fmt.Errorf("service %s: spawn: %w", s.name, err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.outCloser = outW
	s.errCloser = errW
	s.pid = cmd.Process.Pid
	s.active = true
	s.enterRunning(fromCrashed)
	s.mu.Unlock()
	return nil
}

// Stop implements the stop contract (spec §4.3 "Stop contract").
func (s *Service) Stop() error {
	s.opLock.Lock()
	defer s.opLock.Unlock()
	return s.stopLocked()
}

// stopLocked assumes opLock is held.
func (s *Service) stopLocked() error {
	s.mu.Lock()
	s.active = false
	pid := s.pid
	s.mu.Unlock()
	if pid == 0 {
		return nil
	}

	if s.waitNonBlocking(pid, 10*time.Millisecond, 5*time.Second) {
		return nil
	}
	_ = syscall.Kill(-pid, syscall.SIGKILL)
	if s.waitNonBlocking(pid, 10*time.Millisecond, 10*time.Second) {
		return nil
	}
	return fmt.Errorf("service %s: failed to kill pid %d", s.name, pid)
}

// waitNonBlocking polls waitpid(pid, WNOHANG) every interval up to
// timeout, applying any successful reap to the state machine. It first
// sends SIGTERM to the child's process group if pid is still the current
// child; the caller sends nothing itself.
func (s *Service) waitNonBlocking(pid int, interval, timeout time.Duration) bool {
	if s.pidOrZero() == pid {
		_ = syscall.Kill(-pid, syscall.SIGTERM)
	}
	deadline := time.Now().Add(timeout)
	var ws syscall.WaitStatus
	for time.Now().Before(deadline) {
		if s.pidOrZero() != pid {
			// reaped concurrently by the monitor's CHLD loop
			return true
		}
		wpid, err := syscall.Wait4(pid, &ws, syscall.WNOHANG, nil)
		if err != nil {
			// ECHILD: already reaped elsewhere.
			return s.pidOrZero() != pid
		}
		if wpid == pid {
			s.ApplyExit(pid, ws)
			return true
		}
		time.Sleep(interval)
	}
	return false
}

// ApplyExit applies a waitpid-reported exit/signal/stop/continue event to
// the state machine (spec §4.3 table). It is safe to call from the
// monitor's async CHLD handler as well as from Stop()'s direct wait — only
// the first caller for a given pid has any effect.
func (s *Service) ApplyExit(pid int, ws syscall.WaitStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pid != pid {
		return // already applied, or belongs to a previous incarnation
	}
	switch {
	case ws.Stopped():
		if ws.StopSignal() == syscall.SIGSTOP {
			s.status = Stopped
		}
		return
	case ws.Continued():
		if s.status == Stopped {
			s.status = Running
		}
		return
	case ws.Exited():
		s.endTime = time.Now()
		s.pid = 0
		if ws.ExitStatus() == 0 {
			s.status = Finished
		} else {
			s.status = Crashed
			s.crashed++
		}
	case ws.Signaled():
		s.endTime = time.Now()
		s.pid = 0
		if ws.Signal() == syscall.SIGTERM {
			s.status = Finished
		} else {
			s.status = Crashed
			s.crashed++
		}
	}
	s.closeWritersLocked()
}

func (s *Service) closeWritersLocked() {
	if s.outCloser != nil {
		_ = s.outCloser.Close()
		s.outCloser = nil
	}
	if s.errCloser != nil {
		_ = s.errCloser.Close()
		s.errCloser = nil
	}
}

// ShouldAutoRestart reports whether the service's current state calls for
// an automatic restart: Finished/Crashed while the user's intent (active)
// is still true.
func (s *Service) ShouldAutoRestart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active && (s.status == Finished || s.status == Crashed)
}

package service

import (
	"runtime"
	"syscall"
	"testing"
	"time"
)

// stand-in for ppm-launcher in tests: /usr/bin/env execs argv[1:] directly,
// which is enough to exercise Service's spawn/stop contracts without
// requiring the launcher binary to be built first.
const testLauncher = "/usr/bin/env"

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX process model")
	}
}

func TestRestartThenCrash(t *testing.T) {
	requireUnix(t)
	spec := Spec{Name: "false-svc", Command: Command{Path: "false"}}
	svc := New(1, spec)
	if err := svc.Restart(testLauncher, nil); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	pid := svc.Info().PID
	if pid <= 0 {
		t.Fatalf("expected pid to be set")
	}

	var ws syscall.WaitStatus
	if _, err := syscall.Wait4(pid, &ws, 0, nil); err != nil {
		t.Fatalf("wait4: %v", err)
	}
	svc.ApplyExit(pid, ws)

	info := svc.Info()
	if info.Status != Crashed {
		t.Fatalf("expected Crashed, got %v", info.Status)
	}
	if info.Restarts != 1 {
		t.Fatalf("expected restarts=1, got %d", info.Restarts)
	}
	if info.Crashed != 1 {
		// crashed is bumped the moment the service enters Crashed, not on a
		// later restart-from-crashed (spec §8 scenario A).
		t.Fatalf("expected crashed counter 1 after the first crash, got %d", info.Crashed)
	}
	if info.PID != 0 {
		t.Fatalf("expected pid cleared after reap")
	}
}

func TestRestartFromCrashedPreservesCrashedCounter(t *testing.T) {
	requireUnix(t)
	spec := Spec{Name: "false-svc-2", Command: Command{Path: "false"}}
	svc := New(2, spec)
	_ = svc.Restart(testLauncher, nil)
	pid := svc.Info().PID
	var ws syscall.WaitStatus
	_, _ = syscall.Wait4(pid, &ws, 0, nil)
	svc.ApplyExit(pid, ws)
	if svc.Info().Status != Crashed {
		t.Fatalf("precondition: expected Crashed")
	}
	if svc.Info().Crashed != 1 {
		t.Fatalf("precondition: expected crashed=1 already bumped on crash entry, got %d", svc.Info().Crashed)
	}

	if err := svc.Restart(testLauncher, nil); err != nil {
		t.Fatalf("second Restart: %v", err)
	}
	info := svc.Info()
	if info.Status != Running {
		t.Fatalf("expected Running after restart, got %v", info.Status)
	}
	if info.Crashed != 1 {
		// re-entering Running from Crashed does not bump or reset the
		// counter again; the next crash (not this restart) will.
		t.Fatalf("expected crashed counter still 1 after restart-from-crashed, got %d", info.Crashed)
	}
	if info.Restarts != 2 {
		t.Fatalf("expected restarts=2, got %d", info.Restarts)
	}
	_ = svc.Stop()
}

func TestStopTerminatesRunningProcess(t *testing.T) {
	requireUnix(t)
	spec := Spec{Name: "sleep-svc", Command: Command{Path: "sleep", Args: []string{"300"}}}
	svc := New(3, spec)
	if err := svc.Restart(testLauncher, nil); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if svc.Info().Status != Running {
		t.Fatalf("expected Running")
	}

	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	info := svc.Info()
	if info.PID != 0 {
		t.Fatalf("expected pid cleared after Stop")
	}
	if info.Active {
		t.Fatalf("expected active=false after Stop")
	}
}

func TestShouldAutoRestart(t *testing.T) {
	requireUnix(t)
	spec := Spec{Name: "auto", Command: Command{Path: "false"}}
	svc := New(4, spec)
	_ = svc.Restart(testLauncher, nil)
	pid := svc.Info().PID
	var ws syscall.WaitStatus
	_, _ = syscall.Wait4(pid, &ws, 0, nil)
	svc.ApplyExit(pid, ws)

	if !svc.ShouldAutoRestart() {
		t.Fatalf("expected ShouldAutoRestart true for active+Crashed")
	}
	_ = svc.Stop()
	if svc.ShouldAutoRestart() {
		t.Fatalf("expected ShouldAutoRestart false once inactive")
	}
}

package monitor

import (
	"runtime"
	"testing"
	"time"

	"github.com/loykin/ppm/internal/service"
)

const testLauncher = "/usr/bin/env"

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX process model")
	}
}

func newTestMonitor(t *testing.T) *Monitor {
	t.Helper()
	m, err := New(Config{
		StatsInterval:        time.Hour,
		RestartInterval:      10 * time.Millisecond,
		ClockCheckInterval:   time.Hour,
		WatchRestartInterval: 10 * time.Millisecond,
		LauncherPath:         testLauncher,
	}, nil, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = m.watch.Close() })
	return m
}

func TestInsertStartsServiceImmediately(t *testing.T) {
	requireUnix(t)
	m := newTestMonitor(t)
	svc, err := m.Insert(service.Spec{Name: "sleeper", Command: service.Command{Path: "sleep", Args: []string{"300"}}})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	info := svc.Info()
	if !info.Active || info.Status != service.Running {
		t.Fatalf("expected service running and active after Insert, got %+v", info)
	}
	if err := m.Remove(svc.ID()); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok := m.Get(svc.ID()); ok {
		t.Fatalf("expected service removed from map")
	}
}

func TestProcessSkipsInactiveCrashRestart(t *testing.T) {
	requireUnix(t)
	m := newTestMonitor(t)
	svc, err := m.Insert(service.Spec{Name: "quick", Command: service.Command{Path: "false"}})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	m.sched.ScheduleWatchRestart(svc.ID(), 0)
	time.Sleep(5 * time.Millisecond)
	m.process()

	info := svc.Info()
	if info.Active {
		t.Fatalf("expected service to remain inactive, Stop was never followed by Restart")
	}
	if info.PID != 0 {
		t.Fatalf("expected process() to have skipped the restart for an inactive service")
	}
}

func TestOnSIGCHLDSchedulesRestartOnCrash(t *testing.T) {
	requireUnix(t)
	m := newTestMonitor(t)
	svc, err := m.Insert(service.Spec{Name: "crasher", Command: service.Command{Path: "false"}})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	// give the child time to exit on its own so Wait4(-1, WNOHANG) finds it
	time.Sleep(100 * time.Millisecond)
	m.onSIGCHLD()

	info := svc.Info()
	if info.Status != service.Crashed {
		t.Fatalf("expected Crashed, got %v", info.Status)
	}
	if _, ok := m.sched.Peek(); !ok {
		t.Fatalf("expected a CrashRestart to have been scheduled")
	}
}

func TestClockBridgeRoundTrip(t *testing.T) {
	c := newClockBridge()
	instant := time.Now().Add(5 * time.Second)
	wall := c.ToWall(instant)
	back := c.FromWall(wall)
	if diff := back.Sub(instant); diff > time.Millisecond || diff < -time.Millisecond {
		t.Fatalf("expected round-trip within 1ms, got diff %v", diff)
	}
}

func TestClockBridgeDetectsForcedDrift(t *testing.T) {
	c := newClockBridge()
	// Force drift by rewinding the wall anchor far enough to exceed the
	// threshold without touching the monotonic anchor.
	c.wallAnchor = c.wallAnchor.Add(-time.Hour)
	if !c.checkDrift() {
		t.Fatalf("expected forced drift to be detected")
	}
	if c.checkDrift() {
		t.Fatalf("expected drift check to be clean immediately after a refresh")
	}
}

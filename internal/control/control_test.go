package control

import (
	"runtime"
	"testing"
	"time"

	"github.com/loykin/ppm/internal/monitor"
	"github.com/loykin/ppm/internal/service"
	"github.com/loykin/ppm/pkg/client"
)

const testLauncher = "/usr/bin/env"

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("process control is unix-specific")
	}
}

func newTestServer(t *testing.T) (*Server, *monitor.Monitor) {
	t.Helper()
	requireUnix(t)
	mon, err := monitor.New(monitor.Config{
		StatsInterval:        time.Hour,
		RestartInterval:      50 * time.Millisecond,
		ClockCheckInterval:   time.Hour,
		WatchRestartInterval: 10 * time.Millisecond,
		LauncherPath:         testLauncher,
	}, nil, nil, nil)
	if err != nil {
		t.Fatalf("monitor.New: %v", err)
	}
	srv, err := New("127.0.0.1:0", mon, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })
	go func() { _ = srv.Run() }()
	return srv, mon
}

func TestListAndDetails(t *testing.T) {
	srv, mon := newTestServer(t)
	if _, err := mon.Insert(service.Spec{Name: "sleeper", Command: service.Command{Path: "sleep", Args: []string{"300"}}}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	c, err := client.Connect(srv.Addr().String())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	var list []serviceSummary
	if err := c.InvokeInto(client.Request{Action: "list"}, time.Second, &list); err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Name != "sleeper" {
		t.Fatalf("unexpected list result: %+v", list)
	}

	var details serviceDetails
	if err := c.InvokeInto(client.Request{Action: "details", Service: "sleeper"}, time.Second, &details); err != nil {
		t.Fatalf("details: %v", err)
	}
	if details.Info.Name != "sleeper" {
		t.Fatalf("unexpected details: %+v", details)
	}
}

func TestAddRestartStopRemove(t *testing.T) {
	srv, _ := newTestServer(t)

	c, err := client.Connect(srv.Addr().String())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	var id int64
	if err := c.InvokeInto(client.Request{Action: "add", Name: "added", Path: "sleep", Args: []string{"300"}}, time.Second, &id); err != nil {
		t.Fatalf("add: %v", err)
	}
	if id == 0 {
		t.Fatalf("expected non-zero id")
	}

	if err := c.InvokeInto(client.Request{Action: "restart", Service: "added"}, time.Second, nil); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if err := c.InvokeInto(client.Request{Action: "stop", Service: "added"}, time.Second, nil); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := c.InvokeInto(client.Request{Action: "remove", Service: "added"}, time.Second, nil); err != nil {
		t.Fatalf("remove: %v", err)
	}

	var list []serviceSummary
	if err := c.InvokeInto(client.Request{Action: "list"}, time.Second, &list); err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected empty list after remove, got %+v", list)
	}
}

func TestUnknownActionReturnsError(t *testing.T) {
	srv, _ := newTestServer(t)

	c, err := client.Connect(srv.Addr().String())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	_, err = c.Invoke(client.Request{Action: "bogus"}, time.Second)
	if err == nil {
		t.Fatalf("expected error for unknown action")
	}
}

func TestConnectionCapRejectsExcess(t *testing.T) {
	srv, _ := newTestServer(t)

	var conns []*client.Client
	defer func() {
		for _, c := range conns {
			_ = c.Close()
		}
	}()
	for i := 0; i < maxConnections+4; i++ {
		c, err := client.Connect(srv.Addr().String())
		if err != nil {
			t.Fatalf("Connect #%d: %v", i, err)
		}
		conns = append(conns, c)
	}
	time.Sleep(50 * time.Millisecond)

	rejected := 0
	for _, c := range conns {
		if _, err := c.Invoke(client.Request{Action: "list"}, 200*time.Millisecond); err != nil {
			rejected++
		}
	}
	if rejected == 0 {
		t.Fatalf("expected at least one connection beyond the cap to be rejected")
	}
}

// Package monitor implements the supervisor event loop tying the service
// map, scheduler, logger and watcher together (spec §4.7).
package monitor

import (
	"fmt"
	"log/slog"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/ppm/internal/logging"
	"github.com/loykin/ppm/internal/scheduler"
	"github.com/loykin/ppm/internal/service"
	"github.com/loykin/ppm/internal/sig"
	"github.com/loykin/ppm/internal/watcher"
)

// Config is the subset of the daemon configuration the Monitor needs.
type Config struct {
	StatsInterval        time.Duration
	RestartInterval      time.Duration
	ClockCheckInterval   time.Duration
	WatchRestartInterval time.Duration
	LauncherPath         string
}

// Monitor owns the service map, scheduler, logger and optional watcher
// (spec §4.7 "Owns").
type Monitor struct {
	cfg    Config
	log    *slog.Logger
	sched  *scheduler.Scheduler
	logger *logging.Logger
	watch  *watcher.Watcher
	sys    *Sysinfo

	mu       sync.Mutex
	services map[int64]*service.Service
	nextID   int64

	clock *clockBridge

	waiter *sig.Waiter
	timer  *sig.Timer
}

// New builds a Monitor. logger and registry may be nil in tests that don't
// exercise log capture or Prometheus registration.
func New(cfg Config, log *slog.Logger, logger *logging.Logger, registry prometheus.Registerer) (*Monitor, error) {
	if log == nil {
		log = slog.Default()
	}
	var sys *Sysinfo
	if registry != nil {
		s, err := NewSysinfo(registry)
		if err != nil {
			return nil, fmt.Errorf("monitor: sysinfo: %w", err)
		}
		sys = s
	}
	m := &Monitor{
		cfg:      cfg,
		log:      log,
		sched:    scheduler.New(),
		logger:   logger,
		sys:      sys,
		services: make(map[int64]*service.Service),
		clock:    newClockBridge(),
	}
	w, err := watcher.New(m.onWatchEvent)
	if err != nil {
		return nil, fmt.Errorf("monitor: watcher: %w", err)
	}
	m.watch = w
	return m, nil
}

// Insert registers a new service and immediately starts it, wiring its
// schedule and watch (spec §4.7 "Insert/remove"; Open Question "add via
// control channel" resolved as add-then-start, matching the original).
func (m *Monitor) Insert(spec service.Spec) (*service.Service, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	svc := service.New(id, spec)
	m.services[id] = svc
	m.mu.Unlock()

	if m.logger != nil {
		_ = m.logger.RegisterName(id, spec.Name)
	}
	m.registerWatch(svc)
	m.sched.Reschedule(scheduler.ScheduleEntry{ServiceID: id, Schedule: spec.Schedule}, time.Now().Truncate(time.Second))
	if err := svc.Restart(m.cfg.LauncherPath, m.logger); err != nil {
		m.log.Error("initial spawn failed", "service", svc.Name(), "error", err)
	}
	return svc, nil
}

// Remove signals the service first (so the later CHLD path sees it
// reaped), then purges its schedule and watch and takes it out of the map
// (spec §4.7 "Insert/remove").
func (m *Monitor) Remove(id int64) error {
	m.mu.Lock()
	svc, ok := m.services[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("monitor: unknown service %d", id)
	}
	if err := svc.Stop(); err != nil {
		m.log.Warn("stop during remove failed", "service", svc.Name(), "error", err)
	}
	m.sched.Remove(id)
	m.watch.Remove(id)
	if m.logger != nil {
		m.logger.Remove(id)
	}
	m.mu.Lock()
	delete(m.services, id)
	m.mu.Unlock()
	return nil
}

// Restart re-spawns a registered service through the same launcher/logger
// wiring Insert and the scheduler use (spec §6 `restart`/`start` actions).
func (m *Monitor) Restart(id int64) error {
	svc, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("monitor: unknown service %d", id)
	}
	return svc.Restart(m.cfg.LauncherPath, m.logger)
}

// Stop signals a registered service to stop (spec §6 `stop`/`terminate`).
func (m *Monitor) Stop(id int64) error {
	svc, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("monitor: unknown service %d", id)
	}
	return svc.Stop()
}

func (m *Monitor) Get(id int64) (*service.Service, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	svc, ok := m.services[id]
	return svc, ok
}

func (m *Monitor) List() []*service.Service {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*service.Service, 0, len(m.services))
	for _, svc := range m.services {
		out = append(out, svc)
	}
	return out
}

func (m *Monitor) findByPID(pid int) *service.Service {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, svc := range m.services {
		if svc.Info().PID == pid {
			return svc
		}
	}
	return nil
}

func (m *Monitor) registerWatch(svc *service.Service) {
	sp := svc.Spec()
	if sp.Watch == nil {
		return
	}
	ws := watcher.Spec{Paths: sp.Watch.Paths, Include: sp.Watch.Include, Exclude: sp.Watch.Exclude, MaxDepth: sp.Watch.MaxDepth}
	if err := m.watch.Add(svc.ID(), ws); err != nil {
		m.log.Warn("watch registration failed", "service", svc.Name(), "error", err)
	}
}

// onWatchEvent is the pure-enqueue handler invoked from the watcher's own
// goroutine (spec §4.5 "Event → action", §5 "a pure enqueue ... and then
// Signal::kill(self_pid, ALRM)").
func (m *Monitor) onWatchEvent(serviceID int64) {
	if m.sched.ScheduleWatchRestart(serviceID, m.cfg.WatchRestartInterval) {
		_ = sig.Raise(syscall.SIGALRM)
	}
}

// Run sets up the signal mask, setsid/subreaper, starts every active
// service, and drives the event loop until TERM/INT (spec §4.7 "Init",
// "Run").
func (m *Monitor) Run() error {
	if _, err := syscall.Setsid(); err != nil {
		m.log.Debug("setsid failed (already session leader?)", "error", err)
	}
	if err := becomeSubreaper(); err != nil {
		m.log.Debug("subreaper control unavailable", "error", err)
	}

	set := sig.NewSet(syscall.SIGALRM, syscall.SIGCHLD, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGINT)
	m.waiter = sig.Block(set)
	defer m.waiter.Restore()
	m.timer = sig.NewTimer()

	if m.logger != nil {
		go func() {
			if err := m.logger.Run(); err != nil {
				m.log.Error("logger thread exited", "error", err)
			}
		}()
	}

	// Run step 1 (spec §4.7): retry any service that is meant to be
	// running but isn't yet (Insert already did the first attempt), and
	// (re-)register every filesystem watch.
	for _, svc := range m.List() {
		info := svc.Info()
		if info.Active && info.Status != service.Running {
			if err := svc.Restart(m.cfg.LauncherPath, m.logger); err != nil {
				m.log.Error("initial spawn failed", "service", svc.Name(), "error", err)
			}
		}
		if svc.Spec().Watch != nil {
			m.registerWatch(svc)
		}
	}

	m.reinit()

	for {
		if d, ok := m.sched.Peek(); ok {
			if d < time.Millisecond {
				d = time.Millisecond
			}
			m.timer.SetDuration(d)
			m.timer.SetInterval(0)
			m.timer.Start()
		}

		s := m.waiter.Wait()
		m.timer.Stop()

		switch s {
		case syscall.SIGALRM:
			m.process()
		case syscall.SIGCHLD:
			m.onSIGCHLD()
		case syscall.SIGHUP:
			m.reinit()
		case syscall.SIGTERM, syscall.SIGINT:
			m.shutdown()
			return nil
		default:
			return fmt.Errorf("monitor: unexpected signal %v", s)
		}
	}
}

func (m *Monitor) reinit() {
	var entries []scheduler.ScheduleEntry
	for _, svc := range m.List() {
		entries = append(entries, scheduler.ScheduleEntry{ServiceID: svc.ID(), Schedule: svc.Spec().Schedule})
	}
	m.sched.Init(entries, m.cfg.StatsInterval, m.cfg.ClockCheckInterval)
}

// process drains every scheduler event whose deadline has passed and
// applies §4.7's per-kind handling.
func (m *Monitor) process() {
	for _, ev := range m.sched.Iter() {
		switch ev.Kind {
		case scheduler.CronFire:
			svc, ok := m.Get(ev.ServiceID)
			if !ok || !svc.Info().Active {
				continue
			}
			if err := svc.Restart(m.cfg.LauncherPath, m.logger); err != nil {
				m.log.Error("cron restart failed", "service", svc.Name(), "error", err)
			}
			m.sched.Reschedule(scheduler.ScheduleEntry{ServiceID: ev.ServiceID, Schedule: svc.Spec().Schedule}, ev.WallTime)
		case scheduler.CrashRestart:
			svc, ok := m.Get(ev.ServiceID)
			if !ok || !svc.Info().Active {
				continue
			}
			if err := svc.Restart(m.cfg.LauncherPath, m.logger); err != nil {
				m.log.Error("restart failed", "service", svc.Name(), "error", err)
			}
		case scheduler.Sysinfo:
			if m.sys != nil {
				m.sys.Refresh(m.List())
			}
			m.sched.Enqueue(scheduler.Event{Kind: scheduler.Sysinfo, Instant: time.Now().Add(m.cfg.StatsInterval)})
		case scheduler.ClockCheck:
			if m.clock.checkDrift() {
				m.reinit()
			}
			m.sched.Enqueue(scheduler.Event{Kind: scheduler.ClockCheck, Instant: time.Now().Add(m.cfg.ClockCheckInterval)})
		}
	}
}

// onSIGCHLD drains every pending reap via non-blocking waitpid(-1) and
// applies the service state-machine table, scheduling a restart for any
// service that lands in Crashed (spec §4.7 "CHLD").
func (m *Monitor) onSIGCHLD() {
	for {
		var ws syscall.WaitStatus
		pid, err := syscall.Wait4(-1, &ws, syscall.WNOHANG, nil)
		if err != nil || pid <= 0 {
			return
		}
		svc := m.findByPID(pid)
		if svc == nil {
			continue
		}
		svc.ApplyExit(pid, ws)
		info := svc.Info()
		if info.Status == service.Crashed {
			m.sched.ScheduleRestart(svc.ID(), time.Unix(0, info.EndTime.Value), m.cfg.RestartInterval, info.Crashed)
		}
	}
}

func (m *Monitor) shutdown() {
	for _, svc := range m.List() {
		if err := svc.Stop(); err != nil {
			m.log.Warn("stop during shutdown failed", "service", svc.Name(), "error", err)
		}
	}
	if m.logger != nil {
		m.logger.Close()
	}
	if err := m.watch.Close(); err != nil {
		m.log.Debug("watcher close", "error", err)
	}
}

// Services exposes the registered services for the control server.
func (m *Monitor) Services() []*service.Service { return m.List() }

// Scheduler exposes the scheduler for the `show-scheduler` CLI command.
func (m *Monitor) Scheduler() *scheduler.Scheduler { return m.sched }

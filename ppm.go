// Package ppm is a thin embeddable facade over internal/monitor, for
// callers that want to run the supervisor in-process rather than through
// the ppmd/ppm binaries (mirrors the teacher's top-level provisr.go).
package ppm

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/ppm/internal/config"
	"github.com/loykin/ppm/internal/logging"
	"github.com/loykin/ppm/internal/monitor"
	"github.com/loykin/ppm/internal/service"
)

// Re-export core types for external consumers, zero-cost aliases.
type Spec = service.Spec
type Command = service.Command
type Watch = service.Watch
type Info = service.Info
type Stats = service.Stats
type Status = service.Status
type Config = config.Config

// Supervisor is a thin facade over internal/monitor.Monitor.
type Supervisor struct {
	inner  *monitor.Monitor
	logger *logging.Logger
}

// New builds a Supervisor from an already-loaded Config. launcherPath selects
// the ppm-launcher binary used to re-exec spawned services; pass "" to fall
// back to a ppm-launcher resolved next to the host binary or PPM_LAUNCHER,
// same as the ppmd daemon.
func New(cfg Config, launcherPath string, log *slog.Logger, registry prometheus.Registerer) (*Supervisor, error) {
	logger, err := logging.NewLogger(cfg.Logger)
	if err != nil {
		return nil, err
	}
	if launcherPath == "" {
		launcherPath = defaultLauncherPath()
	}
	mon, err := monitor.New(monitor.Config{
		StatsInterval:        cfg.StatsInterval,
		RestartInterval:      cfg.RestartInterval,
		ClockCheckInterval:   cfg.ClockCheckInterval,
		WatchRestartInterval: cfg.WatchRestartInterval,
		LauncherPath:         launcherPath,
	}, log, logger, registry)
	if err != nil {
		return nil, err
	}
	return &Supervisor{inner: mon, logger: logger}, nil
}

// defaultLauncherPath mirrors cmd/ppmd's launcherPath: PPM_LAUNCHER, or a
// ppm-launcher binary next to the host executable.
func defaultLauncherPath() string {
	if p := os.Getenv("PPM_LAUNCHER"); p != "" {
		return p
	}
	exe, err := os.Executable()
	if err != nil {
		return "ppm-launcher"
	}
	return filepath.Join(filepath.Dir(exe), "ppm-launcher")
}

// LoadConfig reads and decodes a configuration file (spec §6).
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// Insert registers and immediately starts a service.
func (s *Supervisor) Insert(spec Spec) (*service.Service, error) { return s.inner.Insert(spec) }

// Remove stops and unregisters a service.
func (s *Supervisor) Remove(id int64) error { return s.inner.Remove(id) }

// List returns every registered service.
func (s *Supervisor) List() []*service.Service { return s.inner.List() }

// Run drives the event loop until TERM/INT; it blocks the calling
// goroutine exactly like the ppmd binary's main does.
func (s *Supervisor) Run() error { return s.inner.Run() }

// Command ppmd is the supervisor daemon: it loads the configuration,
// starts every configured service, and drives the event loop until
// TERM/INT (spec §4.7, §6). Grounded on the original daemon.rs entrypoint.
package main

import (
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/loykin/ppm/internal/config"
	"github.com/loykin/ppm/internal/control"
	"github.com/loykin/ppm/internal/logging"
	"github.com/loykin/ppm/internal/monitor"
)

// defaultAddr mirrors the original's DEFAULT_ADDR constant (spec §6).
const defaultAddr = "127.0.0.1:5000"

func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	configPath := os.Getenv("PPM_CONFIG")
	if configPath == "" {
		p, err := config.FindDefault()
		if err != nil {
			log.Error("no configuration found", "error", err)
			os.Exit(1)
		}
		configPath = p
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Error("failed to load configuration", "path", configPath, "error", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.Logger)
	if err != nil {
		log.Error("failed to start logger thread", "error", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	if err := serveMetrics(registry, log); err != nil {
		log.Warn("metrics server disabled", "error", err)
	}

	mon, err := monitor.New(monitor.Config{
		StatsInterval:        cfg.StatsInterval,
		RestartInterval:      cfg.RestartInterval,
		ClockCheckInterval:   cfg.ClockCheckInterval,
		WatchRestartInterval: cfg.WatchRestartInterval,
		LauncherPath:         launcherPath(),
	}, log, logger, registry)
	if err != nil {
		log.Error("failed to build monitor", "error", err)
		os.Exit(1)
	}

	for _, sp := range cfg.Services {
		if _, err := mon.Insert(sp); err != nil {
			log.Error("failed to register service", "service", sp.Name, "error", err)
		}
	}

	addr := os.Getenv("PPM_LISTEN")
	if addr == "" {
		addr = defaultAddr
	}
	srv, err := control.New(addr, mon, cfg, log)
	if err != nil {
		log.Error("failed to start control server", "addr", addr, "error", err)
		os.Exit(1)
	}
	go func() {
		if err := srv.Run(); err != nil {
			log.Error("control server stopped", "error", err)
		}
	}()

	if err := mon.Run(); err != nil {
		log.Error("monitor stopped", "error", err)
		os.Exit(1)
	}
}

// launcherPath resolves the ppm-launcher binary, assumed to sit alongside
// ppmd unless PPM_LAUNCHER overrides it (spec §6 "Launcher contract").
func launcherPath() string {
	if p := os.Getenv("PPM_LAUNCHER"); p != "" {
		return p
	}
	exe, err := os.Executable()
	if err != nil {
		return "ppm-launcher"
	}
	return filepath.Join(filepath.Dir(exe), "ppm-launcher")
}

// serveMetrics starts a best-effort /metrics endpoint when PPM_METRICS_LISTEN
// is set (ambient observability stack, not part of the control channel).
func serveMetrics(registry *prometheus.Registry, log *slog.Logger) error {
	addr := os.Getenv("PPM_METRICS_LISTEN")
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		if err := http.Serve(ln, mux); err != nil {
			log.Debug("metrics server exited", "error", err)
		}
	}()
	log.Info("metrics server listening", "addr", addr)
	return nil
}

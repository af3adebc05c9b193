package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	p := filepath.Join(dir, "ppm.yml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	p := writeConfig(t, dir, `
services:
  - name: web
    command:
      path: /usr/bin/web
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StatsInterval != defaultStatsInterval {
		t.Fatalf("expected default stats_interval, got %v", cfg.StatsInterval)
	}
	if cfg.RestartInterval != defaultRestartInterval {
		t.Fatalf("expected default restart_interval, got %v", cfg.RestartInterval)
	}
	if cfg.Logger.Dir != defaultLoggerDir {
		t.Fatalf("expected default logger dir, got %q", cfg.Logger.Dir)
	}
	if len(cfg.Services) != 1 || cfg.Services[0].Name != "web" {
		t.Fatalf("expected one service named web, got %+v", cfg.Services)
	}
}

func TestLoadParsesWatchShorthand(t *testing.T) {
	dir := t.TempDir()
	p := writeConfig(t, dir, `
logger:
  path: `+dir+`
services:
  - name: api
    command: {path: /usr/bin/api}
    watch: /tmp/api
  - name: worker
    command: {path: /usr/bin/worker}
    watch:
      paths: [/tmp/worker]
      max_depth: 2
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Services[0].Watch == nil || len(cfg.Services[0].Watch.Paths) != 1 || cfg.Services[0].Watch.Paths[0] != "/tmp/api" {
		t.Fatalf("expected bare-string watch normalized to paths, got %+v", cfg.Services[0].Watch)
	}
	if cfg.Services[1].Watch == nil || cfg.Services[1].Watch.MaxDepth != 2 {
		t.Fatalf("expected explicit max_depth preserved, got %+v", cfg.Services[1].Watch)
	}
}

func TestLoadCustomIntervals(t *testing.T) {
	dir := t.TempDir()
	p := writeConfig(t, dir, `
stats_interval: 5s
restart_interval: 500ms
clock_check_interval: 30m
watch_restart_interval: 250ms
services:
  - name: svc
    command: {path: /bin/true}
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StatsInterval != 5*time.Second {
		t.Fatalf("expected 5s, got %v", cfg.StatsInterval)
	}
	if cfg.WatchRestartInterval != 250*time.Millisecond {
		t.Fatalf("expected 250ms, got %v", cfg.WatchRestartInterval)
	}
}

func TestLoadRejectsMissingCommand(t *testing.T) {
	dir := t.TempDir()
	p := writeConfig(t, dir, `
services:
  - name: broken
`)
	if _, err := Load(p); err == nil {
		t.Fatalf("expected error for service missing command.path")
	}
}

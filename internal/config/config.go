// Package config loads the daemon's YAML configuration file into typed
// structs (spec §6 "Configuration file").
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/loykin/ppm/internal/logging"
	"github.com/loykin/ppm/internal/service"
)

// Config is the daemon's fully decoded configuration (spec §6).
type Config struct {
	StatsInterval        time.Duration  `mapstructure:"stats_interval"`
	RestartInterval      time.Duration  `mapstructure:"restart_interval"`
	ClockCheckInterval   time.Duration  `mapstructure:"clock_check_interval"`
	WatchRestartInterval time.Duration  `mapstructure:"watch_restart_interval"`
	Services             []service.Spec `mapstructure:"services"`
	Logger               logging.Config `mapstructure:"logger"`
}

const (
	defaultStatsInterval        = 10 * time.Second
	defaultRestartInterval      = 1 * time.Second
	defaultClockCheckInterval   = time.Hour
	defaultWatchRestartInterval = 100 * time.Millisecond
	defaultLoggerDir            = "/var/log"
	defaultMaxFiles             = 3
	defaultMaxFileSize          = 20 * 1024 * 1024
)

// rawLogger mirrors the YAML field names (`path` rather than `dir`) so a
// decode hook can translate before mapstructure fills logging.Config.
type rawLogger struct {
	Path        string `mapstructure:"path"`
	MaxFiles    int    `mapstructure:"max_files"`
	MaxFileSize int    `mapstructure:"max_file_size"`
}

// Load reads and decodes configPath, applying the spec's defaults for any
// interval or logger field left unset (spec §6 defaults: stats_interval
// 10s, restart_interval 1s, clock_check_interval 1h,
// watch_restart_interval ~100ms, logger.path /var/log, max_files 3,
// max_file_size 20 MiB).
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", configPath, err)
	}

	var doc struct {
		StatsInterval        string           `mapstructure:"stats_interval"`
		RestartInterval      string           `mapstructure:"restart_interval"`
		ClockCheckInterval   string           `mapstructure:"clock_check_interval"`
		WatchRestartInterval string           `mapstructure:"watch_restart_interval"`
		Services             any       `mapstructure:"services"`
		Logger               rawLogger `mapstructure:"logger"`
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		DecodeHook:       watchDecodeHook,
		Result:           &doc,
	})
	if err != nil {
		return nil, fmt.Errorf("config: build decoder: %w", err)
	}
	if err := dec.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", configPath, err)
	}

	cfg := &Config{
		StatsInterval:        parseDurationOr(doc.StatsInterval, defaultStatsInterval),
		RestartInterval:      parseDurationOr(doc.RestartInterval, defaultRestartInterval),
		ClockCheckInterval:   parseDurationOr(doc.ClockCheckInterval, defaultClockCheckInterval),
		WatchRestartInterval: parseDurationOr(doc.WatchRestartInterval, defaultWatchRestartInterval),
		Logger: logging.Config{
			Dir:         orDefault(doc.Logger.Path, defaultLoggerDir),
			MaxFiles:    intOrDefault(doc.Logger.MaxFiles, defaultMaxFiles),
			MaxFileSize: intOrDefault(doc.Logger.MaxFileSize, defaultMaxFileSize),
		},
	}

	rawServices, err := normalizeServices(doc.Services)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	for _, raw := range rawServices {
		var sp service.Spec
		svcDec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			TagName:          "mapstructure",
			WeaklyTypedInput: true,
			DecodeHook:       watchDecodeHook,
			Result:           &sp,
		})
		if err != nil {
			return nil, fmt.Errorf("config: build service decoder: %w", err)
		}
		if err := svcDec.Decode(raw); err != nil {
			return nil, fmt.Errorf("config: decode service: %w", err)
		}
		if err := sp.Validate(); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		cfg.Services = append(cfg.Services, sp)
	}

	if cfg.Logger.Dir != "" {
		if !filepath.IsAbs(cfg.Logger.Dir) {
			cfg.Logger.Dir = filepath.Join(filepath.Dir(configPath), cfg.Logger.Dir)
		}
		if err := os.MkdirAll(cfg.Logger.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("config: create log directory %s: %w", cfg.Logger.Dir, err)
		}
	}

	return cfg, nil
}

func parseDurationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func intOrDefault(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}

// normalizeServices accepts `services:` as either a YAML sequence of
// service objects or a map keyed by service name (spec §6 "sequence or
// map"), returning a flat list of raw service maps either way. In the map
// form the key becomes the `name` field unless the item already sets one.
func normalizeServices(raw any) ([]map[string]any, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []map[string]any:
		return v, nil
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("services: sequence item must be an object, got %T", item)
			}
			out = append(out, m)
		}
		return out, nil
	case map[string]any:
		out := make([]map[string]any, 0, len(v))
		for name, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("services.%s: must be an object, got %T", name, item)
			}
			if _, hasName := m["name"]; !hasName {
				m["name"] = name
			}
			out = append(out, m)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("services: expected a sequence or map, got %T", raw)
	}
}

// watchDecodeHook lets `watch:` appear as a bare string, a list of strings,
// or a full object (spec §6 "bare string, list, or full object"),
// normalizing all three into the map mapstructure decodes into Watch.
func watchDecodeHook(from, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(service.Watch{}) && to != reflect.TypeOf(&service.Watch{}) {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		return map[string]any{"paths": []string{v}}, nil
	case []any:
		paths := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				paths = append(paths, s)
			}
		}
		return map[string]any{"paths": paths}, nil
	default:
		return data, nil
	}
}

// FindDefault resolves the configuration path search order (spec §6):
// $PPM_CONFIG, then $XDG_CONFIG_HOME/partner/partner-pm.yml, then
// $HOME/.partner-pm.yml, then $PWD/.partner-pm.yml.
func FindDefault() (string, error) {
	if p := os.Getenv("PPM_CONFIG"); p != "" {
		return p, nil
	}
	candidates := []string{}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		candidates = append(candidates, filepath.Join(xdg, "partner", "partner-pm.yml"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".partner-pm.yml"))
	}
	if pwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(pwd, ".partner-pm.yml"))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", fmt.Errorf("config: no configuration file found (set PPM_CONFIG)")
}

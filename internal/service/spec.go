package service

import (
	"fmt"

	"github.com/loykin/ppm/internal/env"
)

// Command is the definition of what to execute: path, argument list and an
// optional environment mapping (spec §3 Service, "Definition fields").
type Command struct {
	Path string            `mapstructure:"path"`
	Args []string          `mapstructure:"args"`
	Env  map[string]string `mapstructure:"env"`
}

// Watch is a set of paths plus include/exclude glob filters and a max scan
// depth (spec §3 Watch).
type Watch struct {
	Paths    []string `mapstructure:"paths"`
	Include  []string `mapstructure:"include"`
	Exclude  []string `mapstructure:"exclude"`
	MaxDepth int      `mapstructure:"max_depth"`
}

// Spec is the immutable definition of a service, as decoded from
// configuration or a control-channel Add request.
type Spec struct {
	Name     string  `mapstructure:"name"`
	Command  Command `mapstructure:"command"`
	WorkDir  string  `mapstructure:"workdir"`
	Schedule string  `mapstructure:"schedule"`
	Watch    *Watch  `mapstructure:"watch"`
}

func (s Spec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("service: name is required")
	}
	if s.Command.Path == "" {
		return fmt.Errorf("service %q: command.path is required", s.Name)
	}
	if s.Watch != nil {
		if s.Watch.MaxDepth <= 0 {
			s.Watch.MaxDepth = 4
		}
	}
	return nil
}

// Environ merges the command's configured overrides onto the daemon's own
// environment (spec §3 Command.env), expanding ${VAR} references.
func (c Command) Environ() []string {
	if len(c.Env) == 0 {
		return nil
	}
	e := env.New()
	for k, v := range c.Env {
		e = e.WithSet(k, v)
	}
	return e.Merge(nil)
}

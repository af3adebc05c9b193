// Command ppm is the control-channel CLI client: every subcommand dials
// the daemon and sends one request (spec §6 "CLI surface"). Grounded on
// the teacher's flat cobra layout (cmd/provisr/main.go) and the original
// cmdline.rs Action/Args shape.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/ppm/internal/config"
	"github.com/loykin/ppm/pkg/client"
)

// defaultAddr mirrors the daemon's DEFAULT_ADDR (spec §6).
const defaultAddr = "127.0.0.1:5000"

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func invoke(addr string, req client.Request, timeout time.Duration) (json.RawMessage, error) {
	c, err := client.Connect(addr)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	return c.Invoke(req, timeout)
}

func main() {
	var addr string

	root := &cobra.Command{Use: "ppm", Short: "ppm controls the ppmd process supervisor"}
	root.PersistentFlags().StringVar(&addr, "addr", defaultAddr, "daemon control address")
	if v := os.Getenv("PPM_LISTEN"); v != "" {
		addr = v
	}

	cmdDaemon := &cobra.Command{
		Use:   "daemon",
		Short: "exec the ppmd daemon process in place of this one",
		RunE: func(cmd *cobra.Command, args []string) error {
			exe, err := os.Executable()
			if err != nil {
				return err
			}
			ppmd := filepath.Join(filepath.Dir(exe), "ppmd")
			bin, err := exec.LookPath(ppmd)
			if err != nil {
				bin = ppmd
			}
			return syscall.Exec(bin, []string{bin}, os.Environ())
		},
	}

	cmdList := &cobra.Command{
		Use:     "info",
		Aliases: []string{"list", "ls"},
		Short:   "show a table of registered services",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := invoke(addr, client.Request{Action: "info"}, 5*time.Second)
			if err != nil {
				return err
			}
			var out any
			_ = json.Unmarshal(raw, &out)
			printJSON(out)
			return nil
		},
	}

	cmdStats := &cobra.Command{
		Use:     "stats <service>",
		Aliases: []string{"statistics", "details"},
		Short:   "show resource usage and lifecycle details for one service",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := invoke(addr, client.Request{Action: "stats", Service: args[0]}, 5*time.Second)
			if err != nil {
				return err
			}
			var out any
			_ = json.Unmarshal(raw, &out)
			printJSON(out)
			return nil
		},
	}

	cmdRestart := &cobra.Command{
		Use:     "restart <service>",
		Aliases: []string{"start"},
		Short:   "restart (or start) a service",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := invoke(addr, client.Request{Action: "restart", Service: args[0]}, 30*time.Second)
			return err
		},
	}

	cmdStop := &cobra.Command{
		Use:     "stop <service>",
		Aliases: []string{"terminate"},
		Short:   "stop a service",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := invoke(addr, client.Request{Action: "stop", Service: args[0]}, 30*time.Second)
			return err
		},
	}

	var addName string
	var addEnv []string
	cmdAdd := &cobra.Command{
		Use:   "add -- cmd args...",
		Short: "register a new service to run immediately",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env := map[string]string{}
			for _, kv := range addEnv {
				k, v, ok := strings.Cut(kv, "=")
				if !ok {
					return fmt.Errorf("invalid --env %q, expected KEY=VALUE", kv)
				}
				env[k] = v
			}
			req := client.Request{Action: "add", Name: addName, Path: args[0], Args: args[1:], Env: env}
			raw, err := invoke(addr, req, 30*time.Second)
			if err != nil {
				return err
			}
			var id int64
			_ = json.Unmarshal(raw, &id)
			fmt.Println(id)
			return nil
		},
	}
	cmdAdd.Flags().StringVar(&addName, "name", "", "service name (required)")
	cmdAdd.Flags().StringSliceVar(&addEnv, "env", nil, "KEY=VALUE environment override (repeatable)")
	_ = cmdAdd.MarkFlagRequired("name")

	cmdRemove := &cobra.Command{
		Use:     "remove <service>",
		Aliases: []string{"rm"},
		Short:   "remove a service",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := invoke(addr, client.Request{Action: "remove", Service: args[0]}, 30*time.Second)
			return err
		},
	}

	cmdShowConfig := &cobra.Command{
		Use:     "show-configuration",
		Aliases: []string{"show-config", "config"},
		Short:   "dump the daemon's active configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := invoke(addr, client.Request{Action: "show-configuration"}, 5*time.Second)
			if err != nil {
				return err
			}
			var out config.Config
			_ = json.Unmarshal(raw, &out)
			printJSON(out)
			return nil
		},
	}

	cmdShowScheduler := &cobra.Command{
		Use:   "show-scheduler",
		Short: "dump the scheduler's pending event queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := invoke(addr, client.Request{Action: "show-scheduler"}, 5*time.Second)
			if err != nil {
				return err
			}
			var out any
			_ = json.Unmarshal(raw, &out)
			printJSON(out)
			return nil
		},
	}

	var tailLines int
	cmdLogs := &cobra.Command{
		Use:   "logs <service>",
		Short: "follow a service's log output, across rotations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogs(addr, args[0], tailLines)
		},
	}
	cmdLogs.Flags().IntVar(&tailLines, "lines", 10, "number of trailing lines to print before following")

	root.AddCommand(cmdDaemon, cmdList, cmdStats, cmdRestart, cmdStop, cmdAdd, cmdRemove, cmdShowConfig, cmdShowScheduler, cmdLogs)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runLogs(addr, service string, lines int) error {
	c, err := client.Connect(addr)
	if err != nil {
		return err
	}

	var files []string
	if err := c.InvokeInto(client.Request{Action: "list-log-files", Service: service}, 5*time.Second, &files); err != nil {
		_ = c.Close()
		return err
	}
	if len(files) == 0 {
		_ = c.Close()
		return fmt.Errorf("no log files for %s", service)
	}
	latest := files[len(files)-1]

	n := lines
	fs, err := client.NewFileSet(files)
	if err != nil {
		_ = c.Close()
		return err
	}
	if _, err := client.Tail(fs, os.Stdout, &n); err != nil {
		_ = fs.Close()
		_ = c.Close()
		return err
	}
	_ = fs.Close()

	tracker, err := client.NewLogTracker(service, c, os.Stdout, latest)
	if err != nil {
		_ = c.Close()
		return err
	}
	defer tracker.Close()
	defer c.Close()
	return tracker.Follow(nil)
}

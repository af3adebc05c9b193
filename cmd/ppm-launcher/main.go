// Command ppm-launcher is the intermediate re-exec binary the daemon
// spawns instead of forking the target executable directly: it resets the
// signal mask to defaults and, on Linux, arms PDEATHSIG before handing off
// to the real process image (spec §6 "Launcher contract"). Doing this in a
// freshly exec'd single-threaded binary is simpler and safer than trying
// to get the same guarantees right in-between fork and exec inside the
// multi-threaded daemon.
package main

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

func main() {
	if len(os.Args) < 2 {
		_, _ = fmt.Fprintln(os.Stderr, "ppm-launcher: no executable given")
		os.Exit(1)
	}
	exe := os.Args[1]
	args := os.Args[1:]

	if err := resetSignalMask(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "ppm-launcher: reset signal mask:", err)
	}
	if err := setParentDeathSignal(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "ppm-launcher: set pdeathsig:", err)
	}

	if err := syscall.Exec(resolve(exe), args, os.Environ()); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "ppm-launcher: exec", exe, ":", err)
		os.Exit(127)
	}
}

// resolve expands a bare command name (e.g. "sleep") to its PATH-resolved
// absolute path, since syscall.Exec does not perform PATH lookup itself.
func resolve(path string) string {
	if abs, err := exec.LookPath(path); err == nil {
		return abs
	}
	return path
}

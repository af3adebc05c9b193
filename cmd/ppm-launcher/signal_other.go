//go:build !linux

package main

// resetSignalMask is a no-op outside Linux: the daemon never blocks
// signals via sigprocmask in this module (internal/sig uses os/signal
// instead), so there is no inherited mask to clear.
func resetSignalMask() error { return nil }

// setParentDeathSignal is a Linux-only control (spec §6 "optionally
// requests PDEATHSIG = TERM (Linux)").
func setParentDeathSignal() error { return nil }

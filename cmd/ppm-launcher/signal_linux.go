//go:build linux

package main

import "golang.org/x/sys/unix"

// resetSignalMask clears any blocked-signal mask inherited from the
// daemon's fork, so the exec'd process starts with every signal
// unblocked (spec §6 "resets the process signal mask to defaults").
func resetSignalMask() error {
	return unix.PthreadSigmask(unix.SIG_SETMASK, &unix.Sigset_t{}, nil)
}

// setParentDeathSignal arms PR_SET_PDEATHSIG so the child is sent SIGTERM
// if the daemon dies first (spec §6, Linux-only per the original).
func setParentDeathSignal() error {
	return unix.Prctl(unix.PR_SET_PDEATHSIG, uintptr(unix.SIGTERM), 0, 0, 0)
}

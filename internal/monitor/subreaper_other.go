//go:build !linux

package monitor

// becomeSubreaper is a Linux-only control; elsewhere re-parented
// grandchildren are simply not reaped by this process (spec §4.7 notes
// CHILD_SUBREAPER as a Linux-specific capability).
func becomeSubreaper() error { return nil }

//go:build linux

package monitor

import "golang.org/x/sys/unix"

// becomeSubreaper invokes prctl(PR_SET_CHILD_SUBREAPER) so re-parented
// grandchildren still reach this process's waitpid (spec §4.7 "Init").
func becomeSubreaper() error {
	return unix.Prctl(unix.PR_SET_CHILD_SUBREAPER, 1, 0, 0, 0)
}

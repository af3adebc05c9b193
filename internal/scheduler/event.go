package scheduler

import "time"

// Kind distinguishes the four scheduler event variants (spec §3 "Scheduler
// event").
type Kind int

const (
	// CronFire fires a cron-scheduled service; WallTime is retained so the
	// next occurrence can be computed from it.
	CronFire Kind = iota
	// CrashRestart restarts a service after a crash or a debounced watch
	// event (spec §4.5 "enqueues a CrashRestart-like scheduler event").
	CrashRestart
	// Sysinfo triggers a periodic per-process resource-stat refresh.
	Sysinfo
	// ClockCheck triggers a periodic monotonic-vs-wallclock drift test.
	ClockCheck
)

func (k Kind) String() string {
	switch k {
	case CronFire:
		return "cron_fire"
	case CrashRestart:
		return "crash_restart"
	case Sysinfo:
		return "sysinfo"
	case ClockCheck:
		return "clock_check"
	default:
		return "unknown"
	}
}

// Event is one entry in the scheduler heap.
type Event struct {
	Kind      Kind
	ServiceID int64     // meaningful for CronFire/CrashRestart only
	Instant   time.Time // monotonic deadline
	WallTime  time.Time // wall-clock companion, CronFire only

	// seq identifies this exact enqueue so Enqueue can report head-ness by
	// identity rather than by comparing Instant values, which ties when
	// two distinct events share a deadline (spec §3 "returns true iff the
	// new event is now the head").
	seq uint64
}

// sameSource reports whether e and other are "source-unique" peers: same
// variant, and for per-service variants, same service id (spec §3
// "source-unique").
func (e Event) sameSource(other Event) bool {
	if e.Kind != other.Kind {
		return false
	}
	switch e.Kind {
	case CronFire, CrashRestart:
		return e.ServiceID == other.ServiceID
	default:
		return true
	}
}

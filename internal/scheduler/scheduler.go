// Package scheduler implements the deadline-ordered event heap described
// in spec §3 "Scheduler event" and §4.6.
package scheduler

import (
	"container/heap"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const maxBackoffShift = 12 // restart_interval · 2^12 already saturates to a practical ceiling

// maxBackoff is the saturating ceiling for schedule_restart's exponential
// backoff (spec §9 Open Question: "a saturating cap is prudent").
const maxBackoff = time.Hour

// Scheduler is a min-heap of Events ordered by soonest deadline, safe for
// concurrent use.
type Scheduler struct {
	mu  sync.Mutex
	h   eventHeap
	seq uint64
}

func New() *Scheduler {
	return &Scheduler{}
}

// eventHeap implements container/heap.Interface; the heap.Interface
// itself has no third-party equivalent in the pack, so it is the
// justified stdlib choice — the cron expression evaluation that feeds it
// never is.
type eventHeap []Event

func (h eventHeap) Len() int            { return len(h) }
func (h eventHeap) Less(i, j int) bool  { return h[i].Instant.Before(h[j].Instant) }
func (h eventHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x any)         { *h = append(*h, x.(Event)) }
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Enqueue pushes event, first removing any prior event from the same
// source (spec §3 "source-unique"). Returns true if event is now the most
// prioritary entry in the queue. Head-ness is decided by the event's own
// enqueue identity, not by comparing deadlines, so two distinct events
// that happen to share an Instant are never mistaken for one another.
func (s *Scheduler) Enqueue(event Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeSourceLocked(event)
	s.seq++
	event.seq = s.seq
	heap.Push(&s.h, event)
	return s.h[0].seq == event.seq
}

func (s *Scheduler) removeSourceLocked(event Event) {
	kept := s.h[:0:0]
	for _, e := range s.h {
		if !e.sameSource(event) {
			kept = append(kept, e)
		}
	}
	s.h = kept
	heap.Init(&s.h)
}

// Peek returns the duration until the next event's deadline, or false if
// the queue is empty.
func (s *Scheduler) Peek() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.h) == 0 {
		return 0, false
	}
	d := time.Until(s.h[0].Instant)
	if d < 0 {
		d = 0
	}
	return d, true
}

// Remove drops every queued event whose ServiceID is id (both CronFire
// and CrashRestart variants); Sysinfo/ClockCheck are never removed by id.
func (s *Scheduler) Remove(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.h[:0:0]
	for _, e := range s.h {
		if (e.Kind == CronFire || e.Kind == CrashRestart) && e.ServiceID == id {
			continue
		}
		kept = append(kept, e)
	}
	s.h = kept
	heap.Init(&s.h)
}

// Iter drains and returns every event whose Instant is at or before the
// moment Iter was called; later events remain on the heap (spec §8
// property 4).
func (s *Scheduler) Iter() []Event {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []Event
	for len(s.h) > 0 && !s.h[0].Instant.After(now) {
		due = append(due, heap.Pop(&s.h).(Event))
	}
	return due
}

// Dump returns every queued event, most-prioritary first, without
// draining the heap (used by the `show-scheduler` CLI command).
func (s *Scheduler) Dump() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.h))
	copy(out, s.h)
	cp := eventHeap(append(eventHeap{}, out...))
	heap.Init(&cp)
	sorted := make([]Event, 0, len(cp))
	for cp.Len() > 0 {
		sorted = append(sorted, heap.Pop(&cp).(Event))
	}
	return sorted
}

// ScheduleEntry is the minimal view of a service the scheduler needs to
// initialize and reschedule cron fires.
type ScheduleEntry struct {
	ServiceID int64
	Schedule  string // cron expression, empty if the service has none
}

// Init clears the queue and rebuilds it from scratch: one CronFire per
// scheduled service (computed from now truncated to the second), one
// Sysinfo at now+statsInterval, and one ClockCheck at now+clockCheckInterval
// (spec §4.6 "init").
func (s *Scheduler) Init(entries []ScheduleEntry, statsInterval, clockCheckInterval time.Duration) {
	s.mu.Lock()
	s.h = nil
	s.mu.Unlock()

	now := time.Now().Truncate(time.Second)
	for _, e := range entries {
		s.reschedule(e, now)
	}
	s.Enqueue(Event{Kind: Sysinfo, Instant: time.Now().Add(statsInterval)})
	s.Enqueue(Event{Kind: ClockCheck, Instant: time.Now().Add(clockCheckInterval)})
}

// Reschedule enqueues the next CronFire for a scheduled service, computed
// from last (spec §4.6 "reschedule").
func (s *Scheduler) Reschedule(e ScheduleEntry, last time.Time) bool {
	return s.reschedule(e, last)
}

func (s *Scheduler) reschedule(e ScheduleEntry, last time.Time) bool {
	if e.Schedule == "" {
		return false
	}
	sched, err := cron.ParseStandard(e.Schedule)
	if err != nil {
		return false
	}
	next := sched.Next(last)
	return s.Enqueue(Event{Kind: CronFire, ServiceID: e.ServiceID, Instant: next, WallTime: next})
}

// ScheduleRestart enqueues a CrashRestart at
// end_time + restart_interval·2^(crashed-1), saturating at maxBackoff to
// avoid overflowing time.Duration for pathological crash counts (spec §9
// Open Question, §8 property 2).
func (s *Scheduler) ScheduleRestart(serviceID int64, endTime time.Time, restartInterval time.Duration, crashed int) bool {
	if endTime.IsZero() {
		endTime = time.Now()
	}
	shift := crashed - 1
	if shift < 0 {
		shift = 0
	}
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	backoff := restartInterval << uint(shift)
	if backoff > maxBackoff || backoff <= 0 {
		backoff = maxBackoff
	}
	return s.Enqueue(Event{Kind: CrashRestart, ServiceID: serviceID, Instant: endTime.Add(backoff)})
}

// ScheduleWatchRestart enqueues a debounced CrashRestart-shaped event at
// now+watchRestartInterval (spec §4.5 "Event → action").
func (s *Scheduler) ScheduleWatchRestart(serviceID int64, watchRestartInterval time.Duration) bool {
	return s.Enqueue(Event{Kind: CrashRestart, ServiceID: serviceID, Instant: time.Now().Add(watchRestartInterval)})
}

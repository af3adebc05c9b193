package scheduler

import (
	"testing"
	"time"
)

func TestIterYieldsOnlyDueEvents(t *testing.T) {
	s := New()
	now := time.Now()
	s.Enqueue(Event{Kind: CrashRestart, ServiceID: 42, Instant: now.Add(time.Minute)})
	s.Enqueue(Event{Kind: Sysinfo, Instant: now.Add(-time.Minute)})
	s.Enqueue(Event{Kind: CrashRestart, ServiceID: 43, Instant: now.Add(time.Minute)})

	due := s.Iter()
	if len(due) != 1 {
		t.Fatalf("expected exactly 1 due event, got %d", len(due))
	}
	if due[0].Kind != Sysinfo {
		t.Fatalf("expected the due event to be Sysinfo, got %v", due[0].Kind)
	}

	remaining, ok := s.Peek()
	if !ok {
		t.Fatalf("expected 2 events still queued")
	}
	if remaining <= 0 {
		t.Fatalf("expected remaining event to be in the future")
	}
}

func TestEnqueueReportsHeadByIdentityNotInstant(t *testing.T) {
	s := New()
	shared := time.Now().Add(time.Minute)

	if ok := s.Enqueue(Event{Kind: CrashRestart, ServiceID: 1, Instant: shared}); !ok {
		t.Fatalf("expected the first event enqueued to be reported as head")
	}
	// A second event sharing the exact same Instant is not the head: it
	// lost the tie-break to the event already occupying that slot.
	if ok := s.Enqueue(Event{Kind: CrashRestart, ServiceID: 2, Instant: shared}); ok {
		t.Fatalf("expected a same-instant, non-head event to report false")
	}
	if ok := s.Enqueue(Event{Kind: CrashRestart, ServiceID: 3, Instant: shared.Add(-time.Second)}); !ok {
		t.Fatalf("expected a strictly sooner event to report true")
	}
}

func TestSourceUniqueness(t *testing.T) {
	s := New()
	now := time.Now()
	s.Enqueue(Event{Kind: CronFire, ServiceID: 1, Instant: now.Add(time.Second)})
	s.Enqueue(Event{Kind: CronFire, ServiceID: 1, Instant: now.Add(2 * time.Second)})
	s.Enqueue(Event{Kind: Sysinfo, Instant: now.Add(time.Second)})
	s.Enqueue(Event{Kind: Sysinfo, Instant: now.Add(3 * time.Second)})

	all := s.Dump()
	cronCount, sysinfoCount := 0, 0
	for _, e := range all {
		switch e.Kind {
		case CronFire:
			cronCount++
		case Sysinfo:
			sysinfoCount++
		}
	}
	if cronCount != 1 {
		t.Fatalf("expected exactly one CronFire for id=1, got %d", cronCount)
	}
	if sysinfoCount != 1 {
		t.Fatalf("expected exactly one Sysinfo, got %d", sysinfoCount)
	}
}

func TestRemoveDropsOnlyMatchingServiceID(t *testing.T) {
	s := New()
	now := time.Now()
	s.Enqueue(Event{Kind: CronFire, ServiceID: 1, Instant: now.Add(time.Second)})
	s.Enqueue(Event{Kind: CrashRestart, ServiceID: 1, Instant: now.Add(2 * time.Second)})
	s.Enqueue(Event{Kind: CrashRestart, ServiceID: 2, Instant: now.Add(time.Second)})
	s.Enqueue(Event{Kind: Sysinfo, Instant: now.Add(time.Second)})

	s.Remove(1)
	all := s.Dump()
	if len(all) != 2 {
		t.Fatalf("expected 2 events to remain, got %d: %+v", len(all), all)
	}
	for _, e := range all {
		if e.ServiceID == 1 {
			t.Fatalf("expected no events for service 1 to remain, found %+v", e)
		}
	}
}

func TestScheduleRestartBackoffDoubles(t *testing.T) {
	s := New()
	end := time.Now()
	base := 10 * time.Millisecond

	s.ScheduleRestart(1, end, base, 1)
	first := s.Dump()[0]
	wantFirst := end.Add(base)
	if diff := first.Instant.Sub(wantFirst); diff > time.Millisecond || diff < -time.Millisecond {
		t.Fatalf("expected first backoff ~%v after end, got instant %v (want %v)", base, first.Instant, wantFirst)
	}

	s2 := New()
	s2.ScheduleRestart(1, end, base, 3)
	second := s2.Dump()[0]
	wantSecond := end.Add(base * 4) // 2^(3-1)
	if diff := second.Instant.Sub(wantSecond); diff > time.Millisecond || diff < -time.Millisecond {
		t.Fatalf("expected backoff ~%v after end for crashed=3, got instant %v (want %v)", base*4, second.Instant, wantSecond)
	}
}

func TestScheduleRestartSaturates(t *testing.T) {
	s := New()
	end := time.Now()
	s.ScheduleRestart(1, end, time.Second, 1000)
	ev := s.Dump()[0]
	if ev.Instant.Sub(end) != maxBackoff {
		t.Fatalf("expected saturated backoff of %v, got %v", maxBackoff, ev.Instant.Sub(end))
	}
}

func TestInitSeedsSysinfoAndClockCheck(t *testing.T) {
	s := New()
	s.Init(nil, 10*time.Second, time.Hour)
	all := s.Dump()
	if len(all) != 2 {
		t.Fatalf("expected Sysinfo+ClockCheck seeded, got %d events", len(all))
	}
}

func TestRescheduleComputesNextCronFire(t *testing.T) {
	s := New()
	last := time.Now().Truncate(time.Minute)
	ok := s.Reschedule(ScheduleEntry{ServiceID: 7, Schedule: "*/1 * * * *"}, last)
	if !ok {
		t.Fatalf("expected reschedule to enqueue a CronFire")
	}
	ev := s.Dump()[0]
	if ev.Kind != CronFire || ev.ServiceID != 7 {
		t.Fatalf("expected CronFire for service 7, got %+v", ev)
	}
	if !ev.Instant.After(last) {
		t.Fatalf("expected next occurrence after %v, got %v", last, ev.Instant)
	}
}

package throttle

import (
	"testing"
	"time"
)

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

// base is aligned to a day boundary so minute/hour/day windows all start
// fresh at the same instant.
var base = time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)

func TestAcquire_PerMinuteLimit(t *testing.T) {
	l := NewLimiter(Config{PerMinute: 3})
	l.now = fixedClock(base.Add(10 * time.Second))

	for i := 0; i < 3; i++ {
		if !l.Acquire("slack") {
			t.Fatalf("call %d rejected, want accepted", i+1)
		}
	}
	if l.Acquire("slack") {
		t.Error("fourth call inside the window accepted, want rejected")
	}

	// The next aligned window boundary clears the counter.
	l.now = fixedClock(base.Add(60 * time.Second))
	if !l.Acquire("slack") {
		t.Error("call at the next window boundary rejected, want accepted")
	}
}

func TestAcquire_BurstAllowance(t *testing.T) {
	l := NewLimiter(Config{PerMinute: 2, Burst: 1})
	l.now = fixedClock(base)

	accepted := 0
	for i := 0; i < 5; i++ {
		if l.Acquire("email") {
			accepted++
		}
	}
	if accepted != 3 {
		t.Errorf("accepted %d, want limit+burst = 3", accepted)
	}

	// Burst is per-window headroom, not cumulative: the next window again
	// allows exactly limit+burst.
	l.now = fixedClock(base.Add(time.Minute))
	accepted = 0
	for i := 0; i < 5; i++ {
		if l.Acquire("email") {
			accepted++
		}
	}
	if accepted != 3 {
		t.Errorf("next window accepted %d, want 3", accepted)
	}
}

func TestAcquire_AllGranularitiesMustPermit(t *testing.T) {
	l := NewLimiter(Config{PerMinute: 10, PerHour: 2})
	l.now = fixedClock(base)

	if !l.Acquire("pager") || !l.Acquire("pager") {
		t.Fatal("first two calls rejected")
	}
	// Minute counter is fine (2 < 10) but the hour counter is exhausted.
	if l.Acquire("pager") {
		t.Error("third call accepted though per-hour limit is spent")
	}

	// A new minute does not help; the hour window is still the same.
	l.now = fixedClock(base.Add(5 * time.Minute))
	if l.Acquire("pager") {
		t.Error("call in a later minute accepted though the hour is spent")
	}

	l.now = fixedClock(base.Add(time.Hour))
	if !l.Acquire("pager") {
		t.Error("call in the next hour rejected")
	}
}

func TestAcquire_ScopesIndependent(t *testing.T) {
	l := NewLimiter(Config{PerMinute: 1})
	l.now = fixedClock(base)

	if !l.Acquire("slack") {
		t.Fatal("slack rejected")
	}
	if l.Acquire("slack") {
		t.Error("slack over limit accepted")
	}
	if !l.Acquire("pagerduty") {
		t.Error("pagerduty rejected though its scope is untouched")
	}
}

func TestAcquire_RejectionDoesNotConsume(t *testing.T) {
	l := NewLimiter(Config{PerMinute: 2})
	l.now = fixedClock(base)

	l.Acquire("s")
	l.Acquire("s")
	for i := 0; i < 10; i++ {
		l.Acquire("s") // all rejected
	}
	if got := l.Counts("s")["minute"]; got != 2 {
		t.Errorf("minute count: got %d, want 2 (rejections must not count)", got)
	}
}

func TestAcquire_Unconfigured(t *testing.T) {
	l := NewLimiter(Config{})
	for i := 0; i < 100; i++ {
		if !l.Acquire("anything") {
			t.Fatal("unconfigured limiter rejected a request")
		}
	}
}

func TestCounts_RolledWindowReportsZero(t *testing.T) {
	l := NewLimiter(Config{PerMinute: 5})
	l.now = fixedClock(base)
	l.Acquire("s")
	l.Acquire("s")

	l.now = fixedClock(base.Add(2 * time.Minute))
	if got := l.Counts("s")["minute"]; got != 0 {
		t.Errorf("count after rollover: got %d, want 0", got)
	}
}

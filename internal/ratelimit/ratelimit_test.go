package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// mockClock is a thread-safe fake time source in epoch milliseconds.
type mockClock struct {
	value atomic.Int64
}

func newMockClock(start int64) *mockClock {
	c := &mockClock{}
	c.value.Store(start)
	return c
}

func (c *mockClock) get() int64 { return c.value.Load() }

func (c *mockClock) set(t int64) { c.value.Store(t) }

func TestLimiterAllowsUpToLimit(t *testing.T) {
	limiter := PerSecond(3)

	for i := 0; i < 3; i++ {
		if !limiter.Allow() {
			t.Errorf("event %d should have been admitted", i+1)
		}
	}
	if limiter.Allow() {
		t.Error("event 4 should have been rejected")
	}
}

func TestLimiterZeroLimitAdmitsNothing(t *testing.T) {
	limiter := PerSecond(0)

	if limiter.Allow() {
		t.Error("event should be rejected with limit 0")
	}
}

func TestLimiterWindowExpiry(t *testing.T) {
	clock := newMockClock(1000)
	limiter := newWithClock(2, 100*time.Millisecond, clock.get)

	limiter.Allow()
	limiter.Allow()
	if limiter.Allow() {
		t.Error("event 3 should have been rejected")
	}

	clock.set(1100)
	if !limiter.Allow() {
		t.Error("event should be admitted after window expiry")
	}
	if limiter.count.Load() != 1 {
		t.Errorf("expected count 1 after window reset, got %d", limiter.count.Load())
	}
}

func TestLimiterTimeGoingBackwards(t *testing.T) {
	clock := newMockClock(1000)
	limiter := newWithClock(2, 100*time.Millisecond, clock.get)

	limiter.Allow()

	// NTP adjustment: elapsed goes negative, no reset happens.
	clock.set(500)
	if !limiter.Allow() {
		t.Error("event 2 should be admitted")
	}
	if limiter.Allow() {
		t.Error("event 3 should be rejected")
	}

	clock.set(1100)
	if !limiter.Allow() {
		t.Error("event should be admitted after time catches up")
	}
}

func TestLimiterConcurrentAdmissionsRespectLimit(t *testing.T) {
	limiter := PerSecond(1000)
	var admitted atomic.Uint32

	const goroutines = 8
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if limiter.Allow() {
					admitted.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	if admitted.Load() != 1000 {
		t.Errorf("expected exactly 1000 admitted, got %d", admitted.Load())
	}
}

func TestLimiterResetRaceAtWindowBoundary(t *testing.T) {
	clock := newMockClock(0)
	limiter := newWithClock(5, 100*time.Millisecond, clock.get)

	for i := 0; i < 5; i++ {
		limiter.Allow()
	}
	clock.set(100)

	const goroutines = 8
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			limiter.Allow()
		}()
	}
	wg.Wait()

	if limiter.windowStart.Load() != 100 {
		t.Errorf("expected window start 100, got %d", limiter.windowStart.Load())
	}
	if limiter.count.Load() != goroutines {
		t.Errorf("expected count %d, got %d", goroutines, limiter.count.Load())
	}
}

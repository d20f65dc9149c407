// Package ratelimit bounds how many events an ingest endpoint admits
// per time window.
package ratelimit

import (
	"sync/atomic"
	"time"
)

// Limiter is a lock-free fixed-window limiter. The window resets inline
// on the first call after expiry via CAS, so no background task is
// needed.
//
// At a window boundary several goroutines may race the reset: only one
// CAS wins, and late increments against the old counter can over-admit
// by at most the number of concurrent callers.
type Limiter struct {
	// count is the number of admissions in the current window.
	count atomic.Uint32

	// windowStart is the window start in milliseconds since epoch.
	windowStart atomic.Int64

	// limit is the maximum admissions per window.
	limit uint32

	// windowMs is the window length in milliseconds.
	windowMs int64

	// now is an injectable clock returning milliseconds since epoch.
	now func() int64
}

// New creates a limiter admitting at most limit events per window.
func New(limit uint32, window time.Duration) *Limiter {
	return newWithClock(limit, window, func() int64 { return time.Now().UnixMilli() })
}

// PerSecond creates a limiter with a one second window.
func PerSecond(limit uint32) *Limiter {
	return New(limit, time.Second)
}

func newWithClock(limit uint32, window time.Duration, now func() int64) *Limiter {
	l := &Limiter{
		limit:    limit,
		windowMs: window.Milliseconds(),
		now:      now,
	}
	l.windowStart.Store(now())
	return l
}

// Allow reports whether one more event fits into the current window and
// counts it. A limit of zero admits nothing.
func (l *Limiter) Allow() bool {
	now := l.now()

	windowStart := l.windowStart.Load()
	if now-windowStart >= l.windowMs {
		// Window expired. Only one caller wins the CAS and zeroes the
		// counter; the others see the fresh window.
		if l.windowStart.CompareAndSwap(windowStart, now) {
			l.count.Store(0)
		}
	}

	return l.count.Add(1)-1 < l.limit
}

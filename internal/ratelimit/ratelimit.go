package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a sliding-log admission gate. At most max grants are recorded
// inside any window of length window.
type Limiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	stamps []time.Time // oldest first
	now    func() time.Time
}

type Option func(*Limiter)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func New(maxRequests int, window time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		max:    maxRequests,
		window: window,
		stamps: make([]time.Time, 0, maxRequests),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// TryAcquire records a grant and returns true when fewer than max grants
// remain in the current window. A denied caller should drop its message.
func (l *Limiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	evict := 0
	for evict < len(l.stamps) && l.stamps[evict].Before(cutoff) {
		evict++
	}
	if evict > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[evict:]...)
	}

	if len(l.stamps) >= l.max {
		return false
	}
	l.stamps = append(l.stamps, now)
	return true
}

// InFlight reports how many grants currently count against the window.
func (l *Limiter) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.stamps)
}

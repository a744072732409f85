package telemetry

import (
	"sync"
	"time"
)

// RateLimiter lets one export error through per interval and counts the
// ones it holds back, so the next logged warning can report them.
type RateLimiter struct {
	mu         sync.Mutex
	interval   time.Duration
	lastTime   time.Time
	suppressed int
	now        func() time.Time
}

// NewRateLimiter creates a rate limiter allowing one error per interval
func NewRateLimiter(interval time.Duration) *RateLimiter {
	return &RateLimiter{interval: interval, now: time.Now}
}

// Allow reports whether an error may be logged now. When it may, it also
// returns how many errors were dropped since the last allowed one.
func (r *RateLimiter) Allow() (bool, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if !r.lastTime.IsZero() && now.Sub(r.lastTime) < r.interval {
		r.suppressed++
		return false, 0
	}
	dropped := r.suppressed
	r.lastTime = now
	r.suppressed = 0
	return true, dropped
}

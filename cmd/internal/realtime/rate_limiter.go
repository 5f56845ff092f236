package realtime

import (
	"sync"
	"time"
)

// RateLimiter bounds inbound frames per watch connection: at most limit events in
// any window. It keeps the last limit accepted timestamps in a ring.
type RateLimiter struct {
	mu     sync.Mutex
	ring   []time.Time
	next   int
	window time.Duration
}

// NewRateLimiter falls back to the gateway defaults for non-positive inputs.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &RateLimiter{ring: make([]time.Time, limit), window: window}
}

// Allow records an event at now and reports whether it fits the budget. Denied
// events are not recorded.
func (r *RateLimiter) Allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	// ring[next] is the oldest accepted event still tracked.
	oldest := r.ring[r.next]
	if !oldest.IsZero() && oldest.After(now.Add(-r.window)) {
		return false
	}
	r.ring[r.next] = now
	r.next = (r.next + 1) % len(r.ring)
	return true
}

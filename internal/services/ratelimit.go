package services

import (
	"sync"
	"time"
)

// Endpoint classes that share the limiter.
const (
	LimitClassRegister    = "register"
	LimitClassLogin       = "login"
	LimitClassPasskeyAuth = "passkey-auth"
)

// RateLimiter keeps a sliding window of attempt timestamps per
// (endpoint class, client address). State is in-process and lost on
// restart; rate limiting here is defense-in-depth, not authorization.
type RateLimiter struct {
	mu       sync.Mutex
	window   time.Duration
	max      int
	attempts map[string][]time.Time

	now func() time.Time
}

func NewRateLimiter(window time.Duration, max int) *RateLimiter {
	return &RateLimiter{
		window:   window,
		max:      max,
		attempts: make(map[string][]time.Time),
		now:      time.Now,
	}
}

// Check records an attempt for the address unless the window is already
// full. A denial reports how long until the oldest attempt leaves the
// window. Expired timestamps are pruned lazily on each call.
func (r *RateLimiter) Check(class, addr string) (allowed bool, retryAfter time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := class + ":" + addr
	now := r.now()
	cutoff := now.Add(-r.window)

	recent := r.attempts[key][:0]
	for _, at := range r.attempts[key] {
		if at.After(cutoff) {
			recent = append(recent, at)
		}
	}

	if len(recent) >= r.max {
		r.attempts[key] = recent
		return false, recent[0].Sub(cutoff)
	}

	r.attempts[key] = append(recent, now)
	return true, 0
}

// Sweep drops addresses with no attempts left in the window, bounding
// memory under high address cardinality.
func (r *RateLimiter) Sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.window)
	for key, times := range r.attempts {
		keep := times[:0]
		for _, at := range times {
			if at.After(cutoff) {
				keep = append(keep, at)
			}
		}
		if len(keep) == 0 {
			delete(r.attempts, key)
			continue
		}
		r.attempts[key] = keep
	}
}

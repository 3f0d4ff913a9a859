// Package ratelimit throttles extension event ingest per session so a
// runaway content script cannot saturate the event store.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter manages per-session token buckets.
type Limiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	rate     rate.Limit
	burst    int
}

// NewLimiter allows eventsPerSecond sustained per session, with burst
// headroom for batched flushes.
func NewLimiter(eventsPerSecond float64, burst int) *Limiter {
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(eventsPerSecond),
		burst:    burst,
	}
}

func (l *Limiter) limiterFor(sessionID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.limiters[sessionID]
	if !exists {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[sessionID] = limiter
	}
	return limiter
}

// Allow reports whether one more event from the session fits the budget.
func (l *Limiter) Allow(sessionID string) bool {
	return l.limiterFor(sessionID).Allow()
}

// Tokens returns the session's remaining burst headroom.
func (l *Limiter) Tokens(sessionID string) float64 {
	return l.limiterFor(sessionID).Tokens()
}

// Forget drops the session's bucket once the session is destroyed.
func (l *Limiter) Forget(sessionID string) {
	l.mu.Lock()
	delete(l.limiters, sessionID)
	l.mu.Unlock()
}

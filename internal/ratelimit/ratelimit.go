// Package ratelimit implements a per-caller token bucket rate limiter.
// Tokens are refilled lazily on each Allow call; there is no background
// goroutine.
package ratelimit

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when a caller has exhausted their bucket.
var ErrRateLimited = errors.New("rate limit exceeded")

// Config configures the limiter.
type Config struct {
	RequestsPerMinute int // Refill rate. 0 = unlimited.
	BurstSize         int // Bucket capacity. Default: RequestsPerMinute.
}

// Limiter keeps one bucket per caller key, so one API key cannot exhaust
// another's quota.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64 // tokens per second
	burst   float64
	now     func() time.Time
}

type bucket struct {
	tokens   float64
	lastFill time.Time
}

// New creates a limiter. With RequestsPerMinute <= 0 Allow always succeeds.
func New(cfg Config) *Limiter {
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = cfg.RequestsPerMinute
	}
	return &Limiter{
		buckets: make(map[string]*bucket),
		rate:    float64(cfg.RequestsPerMinute) / 60.0,
		burst:   float64(max(burst, 1)),
		now:     time.Now,
	}
}

// Allow consumes one token for key or returns ErrRateLimited. A nil
// *Limiter allows everything.
func (l *Limiter) Allow(key string) error {
	if l == nil || l.rate <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		// New callers start with a full bucket.
		b = &bucket{tokens: l.burst, lastFill: now}
		l.buckets[key] = b
	}

	b.tokens = min(b.tokens+now.Sub(b.lastFill).Seconds()*l.rate, l.burst)
	b.lastFill = now

	if b.tokens < 1 {
		return ErrRateLimited
	}
	b.tokens--
	return nil
}

package ratelimit

import (
	"errors"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(cfg Config) (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := New(cfg)
	l.now = clock.now
	return l, clock
}

func TestAllow_Unlimited(t *testing.T) {
	l := New(Config{})
	for range 1000 {
		if err := l.Allow("k"); err != nil {
			t.Fatalf("unlimited limiter refused: %v", err)
		}
	}
	var nilLimiter *Limiter
	if err := nilLimiter.Allow("k"); err != nil {
		t.Errorf("nil limiter refused: %v", err)
	}
}

func TestAllow_BurstThenRefill(t *testing.T) {
	l, clock := newTestLimiter(Config{RequestsPerMinute: 60, BurstSize: 3})

	for i := range 3 {
		if err := l.Allow("k"); err != nil {
			t.Fatalf("request %d refused: %v", i, err)
		}
	}
	if err := l.Allow("k"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("4th request: err = %v, want ErrRateLimited", err)
	}

	// 60/min refills one token per second.
	clock.advance(time.Second)
	if err := l.Allow("k"); err != nil {
		t.Errorf("after refill: %v", err)
	}
	if err := l.Allow("k"); !errors.Is(err, ErrRateLimited) {
		t.Errorf("refill should add a single token, err = %v", err)
	}

	// Refill is capped at the burst size.
	clock.advance(time.Hour)
	for i := range 3 {
		if err := l.Allow("k"); err != nil {
			t.Fatalf("after long idle, request %d refused: %v", i, err)
		}
	}
	if err := l.Allow("k"); !errors.Is(err, ErrRateLimited) {
		t.Errorf("bucket exceeded burst, err = %v", err)
	}
}

func TestAllow_PerKey(t *testing.T) {
	l, _ := newTestLimiter(Config{RequestsPerMinute: 1})

	if err := l.Allow("a"); err != nil {
		t.Fatal(err)
	}
	if err := l.Allow("a"); !errors.Is(err, ErrRateLimited) {
		t.Errorf("a should be limited, err = %v", err)
	}
	if err := l.Allow("b"); err != nil {
		t.Errorf("b has its own bucket: %v", err)
	}
}

package service

import (
	"sync"
	"time"

	"github.com/nanoassist/dashboard/internal/clock"
)

// TokenBucket is an in-memory per-key rate limiter. It guards the login
// endpoint per client IP and is safe for concurrent use.
type TokenBucket struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	rate     float64 // tokens added per second
	capacity float64
	clock    clock.Clock
	idle     time.Duration
	lastGC   time.Time
}

type bucket struct {
	tokens float64
	last   time.Time
}

// NewTokenBucket creates a limiter that allows bursts of capacity per key,
// refilling at rate tokens per second. A nil clock means the real one.
func NewTokenBucket(rate, capacity float64, c clock.Clock) *TokenBucket {
	if c == nil {
		c = clock.Real()
	}
	return &TokenBucket{
		buckets:  make(map[string]*bucket),
		rate:     rate,
		capacity: capacity,
		clock:    c,
		idle:     10 * time.Minute,
		lastGC:   c.Now(),
	}
}

// Allow reports whether key may proceed, consuming one token if so.
func (tb *TokenBucket) Allow(key string) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.clock.Now()
	tb.collectLocked(now)

	b, ok := tb.buckets[key]
	if !ok {
		b = &bucket{tokens: tb.capacity, last: now}
		tb.buckets[key] = b
	}

	elapsed := now.Sub(b.last).Seconds()
	b.tokens = min(b.tokens+elapsed*tb.rate, tb.capacity)
	b.last = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Len returns the number of tracked keys.
func (tb *TokenBucket) Len() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return len(tb.buckets)
}

// collectLocked drops buckets idle for longer than tb.idle, at most once
// per idle period.
func (tb *TokenBucket) collectLocked(now time.Time) {
	if now.Sub(tb.lastGC) < tb.idle {
		return
	}
	cutoff := now.Add(-tb.idle)
	for key, b := range tb.buckets {
		if b.last.Before(cutoff) {
			delete(tb.buckets, key)
		}
	}
	tb.lastGC = now
}

// Package ratelimit implements a per-key token bucket limiter.
//
// Buckets are created lazily on first use of a key, live for the process
// lifetime, and are never persisted. Each bucket refills continuously based
// on elapsed time rather than on a ticker, so idle keys cost nothing.
package ratelimit

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Decision is the outcome of a single admission check.
type Decision struct {
	Allowed bool
	// RetryAfter estimates how long until one full token is available.
	// Only meaningful when Allowed is false.
	RetryAfter time.Duration
}

// Limiter tracks one token bucket per key. The default capacity applies to
// every key unless an override is present; the refill interval is global.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	defaultCapacity int
	interval        time.Duration
	overrides       map[string]int

	now func() time.Time
}

type bucket struct {
	mu        sync.Mutex
	capacity  float64
	tokens    float64
	rate      float64 // tokens per second
	updatedAt time.Time
}

// New creates a limiter. Capacity must be positive and the interval must be
// a positive duration; overrides replace the capacity for their key only.
func New(defaultCapacity int, interval time.Duration, overrides map[string]int) (*Limiter, error) {
	if defaultCapacity < 1 {
		return nil, fmt.Errorf("ratelimit: capacity must be positive, got %d", defaultCapacity)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("ratelimit: refill interval must be positive, got %v", interval)
	}
	for key, capacity := range overrides {
		if capacity < 1 {
			return nil, fmt.Errorf("ratelimit: override capacity for %q must be positive, got %d", key, capacity)
		}
	}
	return &Limiter{
		buckets:         make(map[string]*bucket),
		defaultCapacity: defaultCapacity,
		interval:        interval,
		overrides:       overrides,
		now:             time.Now,
	}, nil
}

// Admit refills the bucket for key and consumes one token if available.
// A rejected call leaves the token count unchanged. Calls on different keys
// never block each other; only the bucket map lookup is shared.
func (l *Limiter) Admit(key string) Decision {
	b := l.bucket(key)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill(l.now())
	if b.tokens >= 1 {
		b.tokens--
		return Decision{Allowed: true}
	}

	deficit := 1 - b.tokens
	var retryAfter time.Duration
	if b.rate > 0 {
		retryAfter = time.Duration(deficit / b.rate * float64(time.Second))
	}
	return Decision{Allowed: false, RetryAfter: retryAfter}
}

func (l *Limiter) bucket(key string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		capacity := l.defaultCapacity
		if override, ok := l.overrides[key]; ok {
			capacity = override
		}
		b = &bucket{
			capacity:  float64(capacity),
			tokens:    float64(capacity),
			rate:      float64(capacity) / l.interval.Seconds(),
			updatedAt: l.now(),
		}
		l.buckets[key] = b
	}
	return b
}

func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.updatedAt).Seconds()
	if elapsed <= 0 {
		return
	}
	b.updatedAt = now
	b.tokens = math.Min(b.capacity, b.tokens+elapsed*b.rate)
}

package infra

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrAcquireTimeout is returned when a token did not become available
// within the caller's context deadline.
var ErrAcquireTimeout = errors.New("rate limiter acquire timed out")

// RateLimiter implements a token bucket rate limiter.
// Thread-safe and suitable for concurrent venue calls. The bucket never
// admits a burst above capacity, and never starves while refillRate > 0.
type RateLimiter struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

// NewRateLimiter creates a new rate limiter.
// capacity: maximum burst size
// perSecond: refill rate (requests per second)
func NewRateLimiter(capacity int, perSecond float64) *RateLimiter {
	return &RateLimiter{
		tokens:     float64(capacity),
		capacity:   float64(capacity),
		refillRate: perSecond,
		lastRefill: time.Now(),
	}
}

// Acquire blocks until a token is available or ctx expires, then debits
// one token. This is the core's only backpressure mechanism: a burst of
// decisions waits here rather than failing immediately.
func (r *RateLimiter) Acquire(ctx context.Context) error {
	for {
		r.mu.Lock()
		r.refill()
		if r.tokens >= 1 {
			r.tokens--
			r.mu.Unlock()
			return nil
		}

		// Time until the next whole token accrues.
		wait := time.Duration((1 - r.tokens) / r.refillRate * float64(time.Second))
		r.mu.Unlock()

		if r.refillRate <= 0 {
			return ErrAcquireTimeout
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrAcquireTimeout
			}
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// TryAcquire attempts to acquire a token without blocking.
// Returns true if a token was acquired, false otherwise.
func (r *RateLimiter) TryAcquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()

	if r.tokens >= 1 {
		r.tokens--
		return true
	}
	return false
}

// Tokens returns the current token count (for monitoring).
func (r *RateLimiter) Tokens() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refill()
	return r.tokens
}

// refill adds tokens based on elapsed time.
// Must be called with mutex held.
func (r *RateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(r.lastRefill).Seconds()
	r.tokens += elapsed * r.refillRate

	if r.tokens > r.capacity {
		r.tokens = r.capacity
	}

	r.lastRefill = now
}

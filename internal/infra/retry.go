package infra

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Classify reports whether an error is worth retrying. Permanent errors
// propagate immediately.
type Classify func(error) bool

// RetryConfig bounds a retry loop.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryConfig returns the standard venue-call retry bounds.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// RetryPolicy retries transient failures with exponential backoff and
// jitter. It is the only layer in the core permitted to retry; callers
// either succeed, fail permanently, or defer to reconciliation.
type RetryPolicy struct {
	cfg RetryConfig
}

// NewRetryPolicy creates a retry policy.
func NewRetryPolicy(cfg RetryConfig) *RetryPolicy {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &RetryPolicy{cfg: cfg}
}

// Do invokes op until it succeeds, fails permanently, or attempts are
// exhausted. Delay before attempt n+1 is min(max, base*2^(n-1)) scaled
// by jitter in [0.5, 1.5). The context bounds the whole loop including
// backoff sleeps.
//
// Callers must only pass idempotent operations: cancels are idempotent
// by venue order id, and submits must carry an idempotency key.
func (p *RetryPolicy) Do(ctx context.Context, name string, op func(ctx context.Context) error, classify Classify) error {
	var lastErr error

	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		if classify != nil && !classify(lastErr) {
			return lastErr
		}

		if attempt == p.cfg.MaxAttempts {
			break
		}

		delay := Jitter(Backoff(attempt, p.cfg.BaseDelay, p.cfg.MaxDelay))
		slog.Warn("retrying after transient failure",
			slog.String("op", name),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.Any("error", lastErr))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", name, p.cfg.MaxAttempts, lastErr)
}

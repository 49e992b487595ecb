package infra

import (
	"context"
	"errors"
	"testing"
	"time"
)

var (
	errTransient = errors.New("transient")
	errPermanent = errors.New("permanent")
)

func transientOnly(err error) bool { return errors.Is(err, errTransient) }

func fastRetry(attempts int) *RetryPolicy {
	return NewRetryPolicy(RetryConfig{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	})
}

func TestRetryPolicy_SucceedsAfterTransientFailures(t *testing.T) {
	p := fastRetry(3)

	calls := 0
	err := p.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	}, transientOnly)

	if err != nil {
		t.Errorf("expected success on third attempt, got %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryPolicy_PermanentStopsImmediately(t *testing.T) {
	p := fastRetry(3)

	calls := 0
	err := p.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return errPermanent
	}, transientOnly)

	if !errors.Is(err, errPermanent) {
		t.Errorf("expected the permanent error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on permanent)", calls)
	}
}

func TestRetryPolicy_ExhaustsAttempts(t *testing.T) {
	p := fastRetry(3)

	calls := 0
	err := p.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return errTransient
	}, transientOnly)

	if !errors.Is(err, errTransient) {
		t.Errorf("expected wrapped transient error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryPolicy_ContextCancelsLoop(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{
		MaxAttempts: 5,
		BaseDelay:   time.Hour, // would hang without ctx awareness
		MaxDelay:    time.Hour,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	calls := 0
	start := time.Now()
	err := p.Do(ctx, "op", func(ctx context.Context) error {
		calls++
		return errTransient
	}, transientOnly)

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if time.Since(start) > time.Second {
		t.Error("retry loop ignored context during backoff sleep")
	}
}

func TestRetryPolicy_NilClassifyRetriesEverything(t *testing.T) {
	p := fastRetry(2)

	calls := 0
	p.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return errPermanent
	}, nil)

	if calls != 2 {
		t.Errorf("calls = %d, want 2 (nil classify treats all errors transient)", calls)
	}
}

package venue

import (
	"context"
	"errors"
	"fmt"
)

// Error taxonomy for the venue boundary. Network and rate-limit failures
// are transient and retried; auth and validation failures are permanent
// and surface immediately.

// NetworkError wraps connectivity failures and timeouts.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("venue network error (%s): %v", e.Op, e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// AuthError indicates rejected credentials. Never retried.
type AuthError struct {
	Msg string
}

func (e *AuthError) Error() string { return "venue auth error: " + e.Msg }

// ValidationError indicates the venue rejected the request parameters.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("venue validation error (%s): %s", e.Field, e.Msg)
}

// OrderError indicates an order-level rejection (insufficient balance,
// market closed, unknown order id).
type OrderError struct {
	VenueOrderID string
	Msg          string
}

func (e *OrderError) Error() string { return "venue order error: " + e.Msg }

// RateLimitError indicates the venue throttled the request.
type RateLimitError struct {
	RetryAfterMS int
}

func (e *RateLimitError) Error() string { return "venue rate limited" }

// ErrOrderNotFound is returned by GetOrderStatus for unknown ids. A
// reconciliation sweep treats it as a miss, not a hard failure.
var ErrOrderNotFound = errors.New("venue order not found")

// IsTransient classifies an error for the retry policy. Context
// cancellation is permanent from the caller's point of view; timeouts at
// the venue boundary are transient (the venue may have received the call).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	var rlErr *RateLimitError
	if errors.As(err, &rlErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}

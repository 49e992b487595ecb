package venue

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"network", &NetworkError{Op: "place_order", Err: fmt.Errorf("refused")}, true},
		{"rate limit", &RateLimitError{RetryAfterMS: 500}, true},
		{"deadline", context.DeadlineExceeded, true},
		{"cancellation", context.Canceled, false},
		{"auth", &AuthError{Msg: "bad key"}, false},
		{"validation", &ValidationError{Field: "price", Msg: "out of range"}, false},
		{"order", &OrderError{Msg: "insufficient balance"}, false},
		{"not found", ErrOrderNotFound, false},
		{"wrapped network", fmt.Errorf("call failed: %w",
			&NetworkError{Op: "get_balance", Err: fmt.Errorf("reset")}), true},
		{"wrapped auth", fmt.Errorf("call failed: %w", &AuthError{Msg: "expired"}), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTransient(tc.err); got != tc.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestNetworkError_Unwrap(t *testing.T) {
	inner := fmt.Errorf("connection reset")
	err := &NetworkError{Op: "place_order", Err: inner}
	if !errors.Is(err, inner) {
		t.Error("NetworkError does not unwrap to its cause")
	}
}

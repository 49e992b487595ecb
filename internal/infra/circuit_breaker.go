package infra

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Failing, reject requests
	StateHalfOpen              // Testing recovery with a single probe
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrCircuitOpen is returned when the breaker rejects a call without
// executing it.
var ErrCircuitOpen = errors.New("circuit breaker open")

// CircuitBreaker isolates a persistently failing endpoint. Thread-safe.
//
// In HALF_OPEN exactly one probe call is admitted; concurrent callers
// that lose the probe race fail fast with ErrCircuitOpen rather than
// queueing, so the decision loop never blocks behind a recovering venue.
type CircuitBreaker struct {
	name string
	mu   sync.Mutex

	state               State
	consecutiveFailures int
	openedAt            time.Time
	probeInFlight       bool

	failureThreshold int
	timeout          time.Duration

	now func() time.Time
}

// CircuitBreakerConfig holds configuration for creating a circuit breaker.
type CircuitBreakerConfig struct {
	Name             string
	FailureThreshold int
	Timeout          time.Duration
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		Timeout:          30 * time.Second,
	}
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 1
	}
	return &CircuitBreaker{
		name:             cfg.Name,
		state:            StateClosed,
		failureThreshold: cfg.FailureThreshold,
		timeout:          cfg.Timeout,
		now:              time.Now,
	}
}

// Allow checks if a call should be admitted. In HALF_OPEN only the first
// caller after the timeout is admitted as the probe.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true

	case StateOpen:
		if cb.now().Sub(cb.openedAt) >= cb.timeout {
			cb.state = StateHalfOpen
			cb.probeInFlight = true
			slog.Info("circuit breaker half-open, admitting probe",
				slog.String("name", cb.name))
			return true
		}
		return false

	case StateHalfOpen:
		if cb.probeInFlight {
			return false
		}
		cb.probeInFlight = true
		return true

	default:
		return false
	}
}

// RecordSuccess records a successful operation.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.consecutiveFailures = 0

	case StateHalfOpen:
		cb.state = StateClosed
		cb.consecutiveFailures = 0
		cb.probeInFlight = false
		slog.Info("circuit breaker closed (probe succeeded)",
			slog.String("name", cb.name))
	}
}

// RecordFailure records a failed operation.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.consecutiveFailures++
		if cb.consecutiveFailures >= cb.failureThreshold {
			cb.state = StateOpen
			cb.openedAt = cb.now()
			slog.Warn("circuit breaker open (failure threshold crossed)",
				slog.String("name", cb.name),
				slog.Int("failures", cb.consecutiveFailures))
		}

	case StateHalfOpen:
		// Probe failed: back to open, restart the timeout clock.
		cb.state = StateOpen
		cb.openedAt = cb.now()
		cb.probeInFlight = false
		slog.Warn("circuit breaker open (probe failed)",
			slog.String("name", cb.name))
	}
}

// Do executes op under the breaker's admission control.
func (cb *CircuitBreaker) Do(ctx context.Context, op func(ctx context.Context) error) error {
	if !cb.Allow() {
		return ErrCircuitOpen
	}
	err := op(ctx)
	if err != nil {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return nil
}

// GetState returns the current state (for monitoring).
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// ConsecutiveFailures returns the current failure streak (for monitoring).
func (cb *CircuitBreaker) ConsecutiveFailures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.consecutiveFailures
}

// Reset forces the circuit breaker to closed state (for testing/admin).
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.consecutiveFailures = 0
	cb.probeInFlight = false
	slog.Info("circuit breaker reset", slog.String("name", cb.name))
}

package infra

import (
	"sync"
	"testing"
)

func TestRegistry_SameInstancePerEndpoint(t *testing.T) {
	r := NewRegistry(nil, DefaultEndpointConfig())

	if r.Limiter("orders") != r.Limiter("orders") {
		t.Error("Limiter returned a new instance for the same endpoint")
	}
	if r.Breaker("orders") != r.Breaker("orders") {
		t.Error("Breaker returned a new instance for the same endpoint")
	}
	if r.Limiter("orders") == r.Limiter("account") {
		t.Error("distinct endpoints share a limiter")
	}
}

func TestRegistry_PerEndpointOverrides(t *testing.T) {
	r := NewRegistry(map[string]EndpointConfig{
		"orders": {Burst: 2, PerSecond: 1, FailureThreshold: 3, TimeoutSec: 10},
	}, EndpointConfig{Burst: 10, PerSecond: 100, FailureThreshold: 5, TimeoutSec: 30})

	orders := r.Limiter("orders")
	if !orders.TryAcquire() || !orders.TryAcquire() {
		t.Fatal("configured burst of 2 not available")
	}
	if orders.TryAcquire() {
		t.Error("orders limiter exceeded its configured burst of 2")
	}

	// Unknown endpoint falls back to the default burst.
	market := r.Limiter("market_data")
	for i := 0; i < 10; i++ {
		if !market.TryAcquire() {
			t.Fatalf("fallback burst exhausted at token %d, want 10", i)
		}
	}
}

func TestRegistry_BreakerStates(t *testing.T) {
	r := NewRegistry(map[string]EndpointConfig{
		"orders": {Burst: 1, PerSecond: 1, FailureThreshold: 1, TimeoutSec: 30},
	}, DefaultEndpointConfig())

	r.Breaker("orders").RecordFailure()
	r.Breaker("account")

	states := r.BreakerStates()
	if len(states) != 2 {
		t.Fatalf("got %d breaker states, want 2", len(states))
	}
	if states["orders"] != StateOpen {
		t.Errorf("orders breaker = %v, want OPEN", states["orders"])
	}
	if states["account"] != StateClosed {
		t.Errorf("account breaker = %v, want CLOSED", states["account"])
	}
}

func TestRegistry_ConcurrentFirstUse(t *testing.T) {
	r := NewRegistry(nil, DefaultEndpointConfig())

	var wg sync.WaitGroup
	results := make([]*CircuitBreaker, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.Breaker("orders")
		}(i)
	}
	wg.Wait()

	for i := 1; i < 20; i++ {
		if results[i] != results[0] {
			t.Fatal("concurrent first use created more than one breaker")
		}
	}
}

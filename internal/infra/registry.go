package infra

import (
	"sync"
	"time"
)

// EndpointConfig bundles the resilience thresholds for one logical venue
// endpoint (orders, account, market data).
type EndpointConfig struct {
	Burst            int     `yaml:"burst"`
	PerSecond        float64 `yaml:"per_second"`
	FailureThreshold int     `yaml:"failure_threshold"`
	TimeoutSec       int     `yaml:"timeout_sec"`
}

// DefaultEndpointConfig returns conservative per-endpoint defaults.
func DefaultEndpointConfig() EndpointConfig {
	return EndpointConfig{
		Burst:            5,
		PerSecond:        10,
		FailureThreshold: 5,
		TimeoutSec:       30,
	}
}

// Registry owns one rate limiter and one circuit breaker per logical
// endpoint name, created lazily on first use. It is constructed once and
// passed by reference, never reached through package globals, so tests
// get isolated instances.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*RateLimiter
	breakers map[string]*CircuitBreaker
	configs  map[string]EndpointConfig
	fallback EndpointConfig
}

// NewRegistry creates a registry. Per-endpoint overrides come from
// configs; endpoints without an entry use the fallback.
func NewRegistry(configs map[string]EndpointConfig, fallback EndpointConfig) *Registry {
	if configs == nil {
		configs = make(map[string]EndpointConfig)
	}
	return &Registry{
		limiters: make(map[string]*RateLimiter),
		breakers: make(map[string]*CircuitBreaker),
		configs:  configs,
		fallback: fallback,
	}
}

// Limiter returns the rate limiter for an endpoint, creating it on first use.
func (r *Registry) Limiter(endpoint string) *RateLimiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rl, ok := r.limiters[endpoint]; ok {
		return rl
	}
	cfg := r.endpointConfig(endpoint)
	rl := NewRateLimiter(cfg.Burst, cfg.PerSecond)
	r.limiters[endpoint] = rl
	return rl
}

// Breaker returns the circuit breaker for an endpoint, creating it on first use.
func (r *Registry) Breaker(endpoint string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[endpoint]; ok {
		return cb
	}
	cfg := r.endpointConfig(endpoint)
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             endpoint,
		FailureThreshold: cfg.FailureThreshold,
		Timeout:          time.Duration(cfg.TimeoutSec) * time.Second,
	})
	r.breakers[endpoint] = cb
	return cb
}

// BreakerStates returns the state of every instantiated breaker
// (for monitoring).
func (r *Registry) BreakerStates() map[string]State {
	r.mu.Lock()
	defer r.mu.Unlock()

	states := make(map[string]State, len(r.breakers))
	for name, cb := range r.breakers {
		states[name] = cb.GetState()
	}
	return states
}

func (r *Registry) endpointConfig(endpoint string) EndpointConfig {
	if cfg, ok := r.configs[endpoint]; ok {
		return cfg
	}
	return r.fallback
}

package infra

import (
	"math/rand"
	"time"
)

// Backoff returns the exponential delay for a given attempt (1-based).
// Logic: base * 2^(attempt-1), capped at max.
// If attempt is below 1, it returns base.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		return base
	}

	// 2^30 seconds already exceeds any sane max; cap early to avoid
	// overflow from bit shifting.
	if attempt > 31 {
		return max
	}

	delay := base * time.Duration(1<<(attempt-1))
	if delay > max || delay <= 0 {
		return max
	}
	return delay
}

// Jitter scales a delay by a uniform factor in [0.5, 1.5) so that
// concurrent retriers do not synchronize against a recovering venue.
func Jitter(d time.Duration) time.Duration {
	factor := 0.5 + rand.Float64()
	return time.Duration(float64(d) * factor)
}

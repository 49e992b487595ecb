package infra

import (
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	base := time.Second
	max := 30 * time.Second

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second}, // capped
		{10, 30 * time.Second},
		{0, 1 * time.Second}, // below 1 falls back to base
		{-3, 1 * time.Second},
		{64, 30 * time.Second}, // shift overflow guarded
	}

	for _, tt := range tests {
		if got := Backoff(tt.attempt, base, max); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestJitter_Bounds(t *testing.T) {
	d := 10 * time.Second
	for i := 0; i < 1000; i++ {
		j := Jitter(d)
		if j < 5*time.Second || j >= 15*time.Second {
			t.Fatalf("Jitter(%v) = %v, outside [5s, 15s)", d, j)
		}
	}
}

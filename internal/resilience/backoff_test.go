package resilience

import (
	"math/rand"
	"testing"
	"time"
)

func TestBackoff_Default(t *testing.T) {
	b := DefaultBackoff()

	tests := []struct {
		n    int
		want time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second},
		{10, 10 * time.Second},
		{200, 10 * time.Second},
	}

	for _, tt := range tests {
		if got := b.Delay(tt.n); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}
}

func TestBackoff_Capped(t *testing.T) {
	b := NewBackoff(100*time.Millisecond, 150*time.Millisecond)

	if got := b.Delay(3); got != 150*time.Millisecond {
		t.Fatalf("Delay(3) = %v, want 150ms", got)
	}
}

func TestBackoff_Uncapped(t *testing.T) {
	b := NewBackoff(time.Second, 0)

	if got := b.Delay(5); got != 32*time.Second {
		t.Fatalf("Delay(5) = %v, want 32s", got)
	}
	// Very large n must not overflow into a negative duration.
	if got := b.Delay(100); got <= 0 {
		t.Fatalf("Delay(100) = %v, want positive", got)
	}
}

func TestBackoff_JitterRange(t *testing.T) {
	b := NewBackoff(time.Second, 0)
	b.Jitter = 0.2
	b.WithRand(rand.New(rand.NewSource(1)))

	for i := 0; i < 50; i++ {
		got := b.Delay(1)
		min := 1600 * time.Millisecond
		max := 2400 * time.Millisecond
		if got < min || got > max {
			t.Fatalf("Delay(1) = %v, want between %v and %v", got, min, max)
		}
	}
}

func TestBackoff_ZeroBaseUsesDefault(t *testing.T) {
	b := &Backoff{}
	if got := b.Delay(1); got != 2*time.Second {
		t.Fatalf("Delay(1) = %v, want 2s", got)
	}
}

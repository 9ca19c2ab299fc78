package resilience

import (
	"context"
	"testing"
	"time"
)

func TestNewLimiter_Disabled(t *testing.T) {
	l := NewLimiter(0, 5)
	if l != nil {
		t.Fatal("NewLimiter(0, ...) should return nil")
	}
	// A nil limiter never blocks.
	if err := l.Wait(context.Background()); err != nil {
		t.Errorf("Wait() error = %v", err)
	}
	if !l.Allow() {
		t.Error("Allow() on nil limiter should be true")
	}
}

func TestLimiter_Allow(t *testing.T) {
	l := NewLimiter(1, 3)

	// Should allow up to burst size
	for i := 0; i < 3; i++ {
		if !l.Allow() {
			t.Errorf("Allow() should return true for request %d", i)
		}
	}

	// Should deny when bucket is empty
	if l.Allow() {
		t.Error("Allow() should return false when bucket is empty")
	}
}

func TestLimiter_WaitRespectsContext(t *testing.T) {
	l := NewLimiter(0.01, 1)
	if !l.Allow() {
		t.Fatal("first Allow() should succeed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := l.Wait(ctx); err == nil {
		t.Error("Wait() should fail when the context expires before a token is available")
	}
}

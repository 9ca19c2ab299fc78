// Package resilience provides the retry backoff policy and client-side
// request throttling used by the request layer.
package resilience

import (
	"math/rand"
	"sync"
	"time"
)

const (
	// DefaultBaseDelay is the backoff base delay.
	DefaultBaseDelay = time.Second
	// DefaultMaxDelay caps every computed delay.
	DefaultMaxDelay = 10 * time.Second
	// DefaultMaxRetries is the retry limit applied when a request has no override.
	DefaultMaxRetries = 3
)

// Backoff computes the delay before a retry.
type Backoff struct {
	// Base is multiplied by 2^n for retry n.
	Base time.Duration
	// Max caps the delay. Zero disables the cap.
	Max time.Duration
	// Jitter spreads the delay by ±Jitter (0.0 - 1.0). Zero keeps it exact.
	Jitter float64

	mu   sync.Mutex
	rand *rand.Rand
}

// NewBackoff returns a backoff with the given base and cap and no jitter.
func NewBackoff(base, max time.Duration) *Backoff {
	return &Backoff{Base: base, Max: max}
}

// DefaultBackoff returns min(1s × 2^n, 10s).
func DefaultBackoff() *Backoff {
	return NewBackoff(DefaultBaseDelay, DefaultMaxDelay)
}

// WithRand sets the jitter source. Used by tests for determinism.
func (b *Backoff) WithRand(r *rand.Rand) *Backoff {
	b.mu.Lock()
	b.rand = r
	b.mu.Unlock()
	return b
}

// Delay returns the wait before retry n, where n is the retry count after
// increment (n=1 is the first retry): min(Base × 2^n, Max).
func (b *Backoff) Delay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	base := b.Base
	if base <= 0 {
		base = DefaultBaseDelay
	}

	// Stop doubling once the cap is reached to avoid overflow.
	d := base
	for i := 0; i < n; i++ {
		if b.Max > 0 && d >= b.Max {
			break
		}
		if d > time.Duration(1<<62)/2 {
			break
		}
		d *= 2
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}

	if b.Jitter > 0 {
		d = b.jitter(d)
		if b.Max > 0 && d > b.Max {
			d = b.Max
		}
	}
	return d
}

func (b *Backoff) jitter(d time.Duration) time.Duration {
	j := b.Jitter
	if j > 1 {
		j = 1
	}
	b.mu.Lock()
	if b.rand == nil {
		b.rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	f := b.rand.Float64()
	b.mu.Unlock()

	// f in [0,1) maps to a factor in [1-j, 1+j).
	factor := 1 - j + 2*j*f
	return time.Duration(float64(d) * factor)
}

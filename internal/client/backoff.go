package client

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Backoff implements exponential backoff for reconnection: the Nth
// consecutive failure waits min(Min * Factor^(N-1), Max). A successful
// open resets the sequence. Jitter, when non-zero, spreads the delay
// by ±(delay * Jitter).
type Backoff struct {
	Min    time.Duration
	Max    time.Duration
	Factor float64
	Jitter float64

	attempt int
	mu      sync.Mutex
}

// DefaultBackoff returns the client's standard reconnect schedule:
// 250ms base, doubling, capped at 10s, no jitter.
func DefaultBackoff() *Backoff {
	return &Backoff{
		Min:    250 * time.Millisecond,
		Max:    10 * time.Second,
		Factor: 2.0,
	}
}

// Duration returns the next delay and increments the attempt counter.
func (b *Backoff) Duration() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	d := float64(b.Min) * math.Pow(b.Factor, float64(b.attempt))
	if d > float64(b.Max) {
		d = float64(b.Max)
	}

	if b.Jitter > 0 {
		d += d * b.Jitter * (2*rand.Float64() - 1)
	}

	if d < float64(b.Min) {
		d = float64(b.Min)
	}
	if d > float64(b.Max) {
		d = float64(b.Max)
	}

	b.attempt++
	return time.Duration(d)
}

// Reset clears the attempt counter. Called on successful connection.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempt = 0
}

// Attempt returns the number of delays handed out since the last reset.
func (b *Backoff) Attempt() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempt
}

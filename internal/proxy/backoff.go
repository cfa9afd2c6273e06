package proxy

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Backoff returns the wait before a retry attempt.
type Backoff interface {
	Next(attempt int) time.Duration
}

// ExponentialBackoff grows initial*factor^attempt up to max, with
// symmetric jitter expressed as a fraction of the delay.
type ExponentialBackoff struct {
	initial time.Duration
	max     time.Duration
	factor  float64
	jitter  float64

	mu   sync.Mutex
	rand *rand.Rand
}

// NewExponentialBackoff creates an exponential backoff.
func NewExponentialBackoff(initial, maxDelay time.Duration, factor, jitter float64) *ExponentialBackoff {
	if factor < 1 {
		factor = 1
	}
	if jitter < 0 {
		jitter = 0
	}
	if jitter > 1 {
		jitter = 1
	}
	return &ExponentialBackoff{
		initial: initial,
		max:     maxDelay,
		factor:  factor,
		jitter:  jitter,
		rand:    rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // jitter only
	}
}

// DefaultBackoff is used when no backoff option is given.
func DefaultBackoff() *ExponentialBackoff {
	return NewExponentialBackoff(25*time.Millisecond, time.Second, 2, 0.2)
}

// Next implements Backoff.
func (b *ExponentialBackoff) Next(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(b.initial) * math.Pow(b.factor, float64(attempt))
	if delay > float64(b.max) {
		delay = float64(b.max)
	}

	if b.jitter > 0 {
		b.mu.Lock()
		spread := delay * b.jitter
		delay += b.rand.Float64()*2*spread - spread
		b.mu.Unlock()
	}

	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// ConstantBackoff always waits the same interval.
type ConstantBackoff time.Duration

// Next implements Backoff.
func (b ConstantBackoff) Next(int) time.Duration {
	return time.Duration(b)
}

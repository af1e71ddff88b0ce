package coordinator

import (
	"math/rand"
	"time"
)

const (
	backoffMultiplier = 2.0
	backoffCapFactor  = 10
)

// backoff implements truncated exponential backoff with jitter, starting at
// the poll interval.
type backoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

func newBackoff(interval time.Duration) *backoff {
	return &backoff{initial: interval, max: interval * backoffCapFactor, current: interval}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	// Apply ±25 % jitter.
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = b.initial
	}
	if d > b.max {
		d = b.max
	}

	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > b.max {
		b.current = b.max
	}
	return d
}

func (b *backoff) reset() {
	b.current = b.initial
}

package common

import (
	"time"
)

// Backoff yields reconnect delays. Each failure doubles the previous delay
// and adds the increment, up to max. A failure that comes more than
// resetAfter after the previous one starts again from base.
type Backoff struct {
	base       time.Duration
	increment  time.Duration
	max        time.Duration
	resetAfter time.Duration

	current     time.Duration
	lastFailure time.Time
	now         func() time.Time
}

func NewBackoff(base, increment, max, resetAfter time.Duration) *Backoff {
	if base <= 0 || max < base {
		panic(base.String())
	}
	return &Backoff{
		base:       base,
		increment:  increment,
		max:        max,
		resetAfter: resetAfter,
		now:        time.Now,
	}
}

func (b *Backoff) NextDelay() time.Duration {
	now := b.now()
	if b.resetAfter > 0 && !b.lastFailure.IsZero() && now.Sub(b.lastFailure) >= b.resetAfter {
		b.current = 0
	}
	b.lastFailure = now

	switch {
	case b.current == 0:
		b.current = b.base
	default:
		b.current = b.current*2 + b.increment
	}
	if b.current > b.max {
		b.current = b.max
	}
	return b.current
}

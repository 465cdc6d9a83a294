package resilience

import (
	"context"
	"math/rand/v2"
	"time"
)

// Backoff yields capped exponential delays with optional jitter. It is not
// safe for concurrent use.
type Backoff struct {
	Base       time.Duration
	Max        time.Duration
	Multiplier float64
	// Jitter is the fraction of each delay that is randomized, in [0,1].
	Jitter float64

	current time.Duration
	rand    func() float64
}

func NewBackoff(base, max time.Duration, multiplier, jitter float64) *Backoff {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	if multiplier < 1 {
		multiplier = 2
	}
	if jitter < 0 {
		jitter = 0
	}
	if jitter > 1 {
		jitter = 1
	}
	return &Backoff{
		Base:       base,
		Max:        max,
		Multiplier: multiplier,
		Jitter:     jitter,
		rand:       rand.Float64,
	}
}

// Next returns the delay for the upcoming attempt and advances the sequence.
func (b *Backoff) Next() time.Duration {
	if b.current <= 0 {
		b.current = b.Base
	}
	delay := b.current

	next := time.Duration(float64(b.current) * b.Multiplier)
	if next > b.Max || next <= 0 {
		next = b.Max
	}
	b.current = next

	if delay > b.Max {
		delay = b.Max
	}
	if b.Jitter > 0 && b.rand != nil {
		spread := float64(delay) * b.Jitter
		delay = time.Duration(float64(delay) - spread + b.rand()*spread)
	}
	return delay
}

func (b *Backoff) Reset() {
	b.current = 0
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

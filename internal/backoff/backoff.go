// Package backoff computes exponential retry delays with optional jitter.
package backoff

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy defines how the delay grows between attempts.
type Policy struct {
	// Base is the delay before the first retry.
	Base time.Duration
	// Max caps the computed delay. Zero means no cap.
	Max time.Duration
	// Factor multiplies the delay each attempt. Values below 1 are treated as 1.
	Factor float64
	// Jitter in [0,1] adds up to that fraction of the delay at random.
	Jitter float64
}

// Delay returns the wait before retrying after the given attempt, 1-indexed.
func (p Policy) Delay(attempt int) time.Duration {
	return p.delayWithRand(attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

func (p Policy) delayWithRand(attempt int, random float64) time.Duration {
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}
	exp := math.Max(float64(attempt-1), 0)
	d := float64(p.Base) * math.Pow(factor, exp)
	d += d * p.Jitter * random
	if p.Max > 0 && d > float64(p.Max) {
		d = float64(p.Max)
	}
	return time.Duration(d)
}

// Sleep waits out the delay for the given attempt or returns the context
// error if the context ends first.
func Sleep(ctx context.Context, p Policy, attempt int) error {
	t := time.NewTimer(p.Delay(attempt))
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package transport

import (
	"context"
	"math/rand"
	"time"
)

// Delay returns the wait before dial attempt n (1-based). Each attempt
// multiplies the previous wait until MaxDelay. With Jitter and a non-nil rng
// the result is drawn from [d/2, d].
func (b BackoffConfig) Delay(attempt int, rng *rand.Rand) time.Duration {
	d := b.InitialDelay
	if d <= 0 {
		return 0
	}
	growth := max(b.Multiplier, 1)
	for i := 1; i < attempt; i++ {
		next := time.Duration(float64(d) * growth)
		if next <= d || (b.MaxDelay > 0 && next >= b.MaxDelay) {
			if b.MaxDelay > 0 {
				d = b.MaxDelay
			}
			break
		}
		d = next
	}
	if b.MaxDelay > 0 && d > b.MaxDelay {
		d = b.MaxDelay
	}
	if b.Jitter && rng != nil {
		half := d / 2
		d = half + time.Duration(rng.Int63n(int64(d-half)+1))
	}
	return d
}

// Wait sleeps for Delay(attempt), returning early with ctx's error.
func (b BackoffConfig) Wait(ctx context.Context, attempt int, rng *rand.Rand) error {
	d := b.Delay(attempt, rng)
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

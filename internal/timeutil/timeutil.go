// Package timeutil provides context-aware waits and jitter for retry loops.
package timeutil

import (
	"context"
	"math/rand"
	"time"
)

// Sleep waits for d or until ctx is done, whichever comes first. Returns the
// context error when interrupted.
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

// Jitter returns a uniformly random duration in [0, max).
func Jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}

// Backoff computes the exponential delay for the given attempt (0-based):
// base * factor^attempt, capped at ceiling, plus jitter in [0, jitterMax).
func Backoff(attempt int, base time.Duration, factor float64, ceiling, jitterMax time.Duration) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * factor)
		if d >= ceiling {
			d = ceiling
			break
		}
	}
	if d > ceiling {
		d = ceiling
	}
	return d + Jitter(jitterMax)
}

// Package clock provides an injectable time source so that time-dependent
// behavior (circuit breaker recovery, token refill, retry backoff) can be
// tested deterministically with a fake clock.
package clock

import (
	"context"
	"time"
)

// Clock is the time source used by all guardkit components.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// Since returns the time elapsed since t.
	Since(t time.Time) time.Duration
	// Sleep blocks for d or until ctx is cancelled, whichever comes first.
	// Returns ctx.Err() when cancelled, nil otherwise.
	Sleep(ctx context.Context, d time.Duration) error
}

// System returns the real wall clock.
func System() Clock { return systemClock{} }

type systemClock struct{}

func (systemClock) Now() time.Time                  { return time.Now() }
func (systemClock) Since(t time.Time) time.Duration { return time.Since(t) }

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
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

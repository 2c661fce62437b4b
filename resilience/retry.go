package resilience

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/kbukum/guardkit/clock"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	// MaxAttempts is the number of retries after the initial attempt.
	// Zero disables retries entirely.
	MaxAttempts int
	// BaseDelay is the pre-jitter delay before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps the exponential backoff.
	MaxDelay time.Duration
	// JitterFraction adds uniform jitter in [0, delay*JitterFraction).
	JitterFraction float64
	// RetryIf decides whether an error is worth retrying. Defaults to
	// retrying everything except context cancellation.
	RetryIf func(error) bool
	// OnRetry is called before each retry sleep.
	OnRetry func(attempt int, err error, delay time.Duration)

	// Clock drives the inter-attempt sleep. Defaults to the system clock.
	Clock clock.Clock
}

// DefaultRetryConfig returns sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		BaseDelay:      100 * time.Millisecond,
		MaxDelay:       10 * time.Second,
		JitterFraction: 0.2,
	}
}

// DefaultRetryIf retries all errors except context cancellation.
func DefaultRetryIf(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Retry executes fn, re-invoking it on retryable failure with
// exponentially increasing, jittered delay.
//
// A non-retryable error is returned unmodified. When all attempts are
// consumed the last error is wrapped in a RetryExhaustedError; if the
// call was never retried the original error is returned as-is.
//
// Callers must only retry operations they know to be idempotent; the
// library cannot verify that.
func Retry[T any](ctx context.Context, cfg RetryConfig, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 10 * time.Second
	}
	if cfg.RetryIf == nil {
		cfg.RetryIf = DefaultRetryIf
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System()
	}

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		if !cfg.RetryIf(err) {
			return zero, err
		}
		if attempt >= cfg.MaxAttempts {
			if attempt == 0 {
				return zero, err
			}
			return zero, &RetryExhaustedError{Attempts: attempt + 1, Err: err}
		}

		delay := backoffDelay(attempt, cfg)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, delay)
		}
		if sleepErr := cfg.Clock.Sleep(ctx, delay); sleepErr != nil {
			return zero, sleepErr
		}
	}
}

// RetryFunc executes a function that returns only an error.
func RetryFunc(ctx context.Context, cfg RetryConfig, fn func(context.Context) error) error {
	_, err := Retry(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// backoffDelay computes the jittered delay before retry number attempt
// (0-based): min(MaxDelay, BaseDelay*2^attempt) plus uniform jitter in
// [0, delay*JitterFraction).
func backoffDelay(attempt int, cfg RetryConfig) time.Duration {
	delay := cfg.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= cfg.MaxDelay {
			delay = cfg.MaxDelay
			break
		}
	}
	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}

	if cfg.JitterFraction > 0 {
		jitter := rand.Float64() * cfg.JitterFraction * float64(delay)
		delay += time.Duration(jitter)
	}
	return delay
}

package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/kbukum/guardkit/clock"
	"github.com/kbukum/guardkit/logger"
)

// Executor composes the bulkhead, circuit breaker, rate limiter, and
// retry loop into a single call path with a fixed order:
//
//	Bulkhead -> CircuitBreaker -> Retry { RateLimiter -> fn }
//
// The cheap admission controls gate before the retry loop, so one
// logical call holds one bulkhead slot and one breaker admission for all
// of its attempts, while every individual attempt consumes one rate
// limiter token (each attempt is a real call to the dependency).
type Executor struct {
	policy    Policy
	bulkhead  *Bulkhead
	breaker   *CircuitBreaker
	limiter   *RateLimiter
	clock     clock.Clock
	log       *logger.Logger
	collector *Collector
	retryIf   func(error) bool
	hooks     hookOptions
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithClock sets the time source for every component.
func WithClock(c clock.Clock) ExecutorOption {
	return func(e *Executor) { e.clock = c }
}

// WithLogger sets the logger for every component.
func WithLogger(l *logger.Logger) ExecutorOption {
	return func(e *Executor) { e.log = l }
}

// WithCollector shares an external metrics collector instead of the
// executor's own.
func WithCollector(c *Collector) ExecutorOption {
	return func(e *Executor) { e.collector = c }
}

// WithRetryClassifier sets the retryable-error classifier used by the
// retry loop. Admission-control errors are never retried regardless of
// the classifier.
func WithRetryClassifier(fn func(error) bool) ExecutorOption {
	return func(e *Executor) { e.retryIf = fn }
}

// stateHook and rejectHook are stashed on the Executor before the
// components are built.
type hookOptions struct {
	onStateChange func(key string, from, to State)
	onReject      func(component, key string)
}

// WithStateHook registers a callback fired on every circuit state
// transition.
func WithStateHook(fn func(key string, from, to State)) ExecutorOption {
	return func(e *Executor) { e.hooks.onStateChange = fn }
}

// WithRejectHook registers a callback fired on every admission
// rejection, tagged with the rejecting component.
func WithRejectHook(fn func(component, key string)) ExecutorOption {
	return func(e *Executor) { e.hooks.onReject = fn }
}

// NewExecutor validates the policy and builds the composed call path.
func NewExecutor(policy Policy, opts ...ExecutorOption) (*Executor, error) {
	policy.ApplyDefaults()
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	e := &Executor{
		policy:  policy,
		clock:   clock.System(),
		log:     logger.Nop(),
		retryIf: DefaultRetryIf,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.collector == nil {
		e.collector = NewCollector()
	}

	onReject := func(component string) func(key string) {
		if e.hooks.onReject == nil {
			return nil
		}
		return func(key string) { e.hooks.onReject(component, key) }
	}

	e.bulkhead = NewBulkhead(BulkheadConfig{
		MaxConcurrent: policy.MaxConcurrency,
		MaxWait:       queueWait(policy),
		MaxQueue:      policy.MaxQueue,
		OnReject:      onReject(ComponentBulkhead),
		Clock:         e.clock,
		Logger:        e.log,
		Metrics:       e.collector,
	})
	e.breaker = NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold:  policy.FailureThreshold,
		WindowDuration:    policy.WindowDuration,
		RecoveryTimeout:   policy.RecoveryTimeout,
		HalfOpenMaxProbes: policy.HalfOpenMaxProbes,
		OnStateChange:     e.hooks.onStateChange,
		OnReject:          onReject(ComponentCircuitBreaker),
		Clock:             e.clock,
		Logger:            e.log,
		Metrics:           e.collector,
	})
	e.limiter = NewRateLimiter(RateLimiterConfig{
		Capacity:    policy.Capacity,
		RefillRate:  policy.RefillRate,
		WaitTimeout: policy.WaitTimeout,
		OnReject:    onReject(ComponentRateLimiter),
		Clock:       e.clock,
		Logger:      e.log,
		Metrics:     e.collector,
	})

	return e, nil
}

func queueWait(p Policy) time.Duration {
	if p.QueueMode {
		return p.QueueTimeout
	}
	return 0
}

// Execute runs fn for the given dependency key through the full
// admission pipeline. Admission rejections short-circuit with a typed
// error; failures of fn itself are subject to the retry policy, and
// every attempt's outcome is reported to the circuit breaker.
func Execute[T any](ctx context.Context, e *Executor, key string, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	release, err := e.bulkhead.Acquire(ctx, key)
	if err != nil {
		return zero, err
	}
	defer release()

	token, err := e.breaker.Allow(key)
	if err != nil {
		return zero, err
	}

	retryCfg := RetryConfig{
		MaxAttempts:    e.policy.MaxAttempts,
		BaseDelay:      e.policy.BaseDelay,
		MaxDelay:       e.policy.MaxDelay,
		JitterFraction: e.policy.JitterFraction,
		RetryIf:        e.attemptRetryable,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			e.collector.Admit(ComponentRetry, key)
			e.log.Debug("retrying", logger.Fields(
				logger.FieldKey, key,
				logger.FieldAttempt, attempt,
				logger.FieldError, err.Error(),
			))
		},
		Clock: e.clock,
	}

	result, err := Retry(ctx, retryCfg, func(ctx context.Context) (T, error) {
		if limitErr := e.acquireToken(ctx, key); limitErr != nil {
			return zero, limitErr
		}
		res, callErr := fn(ctx)
		e.breaker.RecordResult(key, token, callErr)
		return res, callErr
	})
	if err != nil {
		var exhausted *RetryExhaustedError
		if errors.As(err, &exhausted) {
			exhausted.Key = key
		}
		return zero, err
	}
	return result, nil
}

// Do runs an error-only operation through the pipeline.
func (e *Executor) Do(ctx context.Context, key string, fn func(context.Context) error) error {
	_, err := Execute(ctx, e, key, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// acquireToken takes one rate limiter token for a single attempt, in the
// mode the policy selects.
func (e *Executor) acquireToken(ctx context.Context, key string) error {
	if e.policy.Blocking {
		return e.limiter.Wait(ctx, key, 1)
	}
	return e.limiter.Allow(key, 1)
}

// attemptRetryable keeps admission rejections out of the retry loop:
// retrying past an explicit rejection would defeat its purpose.
func (e *Executor) attemptRetryable(err error) bool {
	if IsAdmissionError(err) {
		return false
	}
	return e.retryIf(err)
}

// BreakerState returns the circuit state for key.
func (e *Executor) BreakerState(key string) State {
	return e.breaker.State(key)
}

// Metrics returns a read-only snapshot of all admission counters plus
// the current breaker state per key.
func (e *Executor) Metrics() ExecutorSnapshot {
	return ExecutorSnapshot{
		Snapshot:      e.collector.Snapshot(),
		BreakerStates: e.breaker.States(),
	}
}

// ExecutorSnapshot extends the counter snapshot with breaker states.
type ExecutorSnapshot struct {
	Snapshot
	BreakerStates map[string]State
}

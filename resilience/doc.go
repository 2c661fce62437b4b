// Package resilience provides keyed admission-control primitives for
// protecting calls to unreliable remote dependencies.
//
// This package includes:
//   - CircuitBreaker: per-key three-state failure tripwire
//   - RateLimiter: per-key token-bucket admission control
//   - Bulkhead: per-key concurrency cap with FIFO queueing
//   - Retry: bounded re-invocation with exponential backoff and jitter
//   - Executor: composes the above into one Execute entry point
//
// All per-key state lives in sharded in-process maps and resets on
// restart. Time-based transitions are evaluated lazily against an
// injected clock, so every component is deterministically testable.
//
//	exec, err := resilience.NewExecutor(resilience.DefaultPolicy())
//	if err != nil {
//	    return err
//	}
//	result, err := resilience.Execute(ctx, exec, "payments", callPayments)
package resilience

package resilience

import (
	"errors"
	"fmt"
)

// CircuitOpenError is returned when the circuit breaker rejects admission
// for a dependency key.
type CircuitOpenError struct {
	// Key is the dependency key the breaker is open for.
	Key string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("resilience: circuit breaker open for %q", e.Key)
}

// RateLimitError is returned when a token bucket has no tokens available
// in non-blocking mode, or when the requested cost can never be satisfied.
type RateLimitError struct {
	Key string
	// Cost is the token cost that was rejected.
	Cost int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("resilience: rate limit exceeded for %q (cost %d)", e.Key, e.Cost)
}

// BulkheadFullError is returned when no concurrency slot is available in
// fail-fast mode, or when the waiter queue is at its bound.
type BulkheadFullError struct {
	Key string
}

func (e *BulkheadFullError) Error() string {
	return fmt.Sprintf("resilience: bulkhead full for %q", e.Key)
}

// TimeoutError is returned when a blocking acquire exceeded its configured
// wait budget. Op identifies the operation that timed out.
type TimeoutError struct {
	Key string
	Op  string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("resilience: %s timed out for %q", e.Op, e.Key)
}

// RetryExhaustedError wraps the last underlying failure after all retry
// attempts were consumed.
type RetryExhaustedError struct {
	Key      string
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("resilience: retries exhausted for %q after %d attempts: %v", e.Key, e.Attempts, e.Err)
	}
	return fmt.Sprintf("resilience: retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

// Unwrap returns the last underlying error.
func (e *RetryExhaustedError) Unwrap() error { return e.Err }

// IsCircuitOpen reports whether err is a circuit breaker rejection.
func IsCircuitOpen(err error) bool {
	var target *CircuitOpenError
	return errors.As(err, &target)
}

// IsRateLimited reports whether err is a rate limiter rejection.
func IsRateLimited(err error) bool {
	var target *RateLimitError
	return errors.As(err, &target)
}

// IsBulkheadFull reports whether err is a bulkhead rejection.
func IsBulkheadFull(err error) bool {
	var target *BulkheadFullError
	return errors.As(err, &target)
}

// IsTimeout reports whether err is a blocking-acquire timeout.
func IsTimeout(err error) bool {
	var target *TimeoutError
	return errors.As(err, &target)
}

// IsRetryExhausted reports whether err wraps a retry exhaustion.
func IsRetryExhausted(err error) bool {
	var target *RetryExhaustedError
	return errors.As(err, &target)
}

// IsAdmissionError reports whether err is a rejection from any admission
// control (breaker, rate limiter, bulkhead, or a blocking-acquire timeout)
// as opposed to a failure of the protected call itself.
func IsAdmissionError(err error) bool {
	return IsCircuitOpen(err) || IsRateLimited(err) || IsBulkheadFull(err) || IsTimeout(err)
}

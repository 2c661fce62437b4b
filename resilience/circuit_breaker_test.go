package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kbukum/guardkit/clock"
)

var errBoom = errors.New("boom")

func newTestBreaker(fc *clock.Fake, cfg CircuitBreakerConfig) *CircuitBreaker {
	cfg.Clock = fc
	return NewCircuitBreaker(cfg)
}

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	cb := newTestBreaker(fc, DefaultCircuitBreakerConfig())

	if got := cb.State("db"); got != StateClosed {
		t.Errorf("expected closed, got %s", got)
	}
}

func TestCircuitBreaker_OpensAfterThresholdFailures(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	cb := newTestBreaker(fc, CircuitBreakerConfig{
		FailureThreshold: 3,
		WindowDuration:   10 * time.Second,
		RecoveryTimeout:  5 * time.Second,
	})

	for i := 0; i < 3; i++ {
		token, err := cb.Allow("db")
		if err != nil {
			t.Fatalf("attempt %d rejected: %v", i, err)
		}
		cb.RecordResult("db", token, errBoom)
	}

	if got := cb.State("db"); got != StateOpen {
		t.Fatalf("expected open, got %s", got)
	}

	_, err := cb.Allow("db")
	if !IsCircuitOpen(err) {
		t.Errorf("expected CircuitOpenError, got %v", err)
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	cb := newTestBreaker(fc, CircuitBreakerConfig{
		FailureThreshold: 3,
		WindowDuration:   10 * time.Second,
	})

	for i := 0; i < 2; i++ {
		token, _ := cb.Allow("db")
		cb.RecordResult("db", token, errBoom)
	}
	token, _ := cb.Allow("db")
	cb.RecordResult("db", token, nil)

	if got := cb.Failures("db"); got != 0 {
		t.Errorf("expected failure count reset, got %d", got)
	}

	// Two more failures must not trip the breaker.
	for i := 0; i < 2; i++ {
		token, _ := cb.Allow("db")
		cb.RecordResult("db", token, errBoom)
	}
	if got := cb.State("db"); got != StateClosed {
		t.Errorf("expected closed, got %s", got)
	}
}

func TestCircuitBreaker_FailuresOutsideWindowNotCounted(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	cb := newTestBreaker(fc, CircuitBreakerConfig{
		FailureThreshold: 3,
		WindowDuration:   10 * time.Second,
	})

	for i := 0; i < 2; i++ {
		token, _ := cb.Allow("db")
		cb.RecordResult("db", token, errBoom)
	}

	// Age the first two failures out of the window.
	fc.Advance(11 * time.Second)

	token, _ := cb.Allow("db")
	cb.RecordResult("db", token, errBoom)

	if got := cb.State("db"); got != StateClosed {
		t.Errorf("expected closed (stale failures aged out), got %s", got)
	}
	if got := cb.Failures("db"); got != 1 {
		t.Errorf("expected 1 failure in window, got %d", got)
	}
}

func TestCircuitBreaker_HalfOpenAfterRecoveryTimeout(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	cb := newTestBreaker(fc, CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  5 * time.Second,
	})

	token, _ := cb.Allow("db")
	cb.RecordResult("db", token, errBoom)
	if got := cb.State("db"); got != StateOpen {
		t.Fatalf("expected open, got %s", got)
	}

	fc.Advance(4 * time.Second)
	if _, err := cb.Allow("db"); !IsCircuitOpen(err) {
		t.Fatalf("expected rejection before recovery timeout, got %v", err)
	}

	fc.Advance(time.Second)
	token, err := cb.Allow("db")
	if err != nil {
		t.Fatalf("expected probe admission, got %v", err)
	}
	if got := cb.State("db"); got != StateHalfOpen {
		t.Errorf("expected half-open, got %s", got)
	}

	cb.RecordResult("db", token, nil)
	if got := cb.State("db"); got != StateClosed {
		t.Errorf("expected closed after successful probe, got %s", got)
	}
	if got := cb.Failures("db"); got != 0 {
		t.Errorf("expected failure count 0 after recovery, got %d", got)
	}
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	cb := newTestBreaker(fc, CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  5 * time.Second,
	})

	token, _ := cb.Allow("db")
	cb.RecordResult("db", token, errBoom)

	fc.Advance(5 * time.Second)
	token, err := cb.Allow("db")
	if err != nil {
		t.Fatalf("expected probe admission, got %v", err)
	}
	cb.RecordResult("db", token, errBoom)

	if got := cb.State("db"); got != StateOpen {
		t.Fatalf("expected open after failed probe, got %s", got)
	}

	// Recovery timer restarted at probe failure.
	fc.Advance(4 * time.Second)
	if _, err := cb.Allow("db"); !IsCircuitOpen(err) {
		t.Errorf("expected rejection, recovery timer should have restarted")
	}
	fc.Advance(time.Second)
	if _, err := cb.Allow("db"); err != nil {
		t.Errorf("expected probe admission after restarted timer, got %v", err)
	}
}

func TestCircuitBreaker_HalfOpenProbeBudget(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	cb := newTestBreaker(fc, CircuitBreakerConfig{
		FailureThreshold:  1,
		RecoveryTimeout:   time.Second,
		HalfOpenMaxProbes: 1,
	})

	token, _ := cb.Allow("db")
	cb.RecordResult("db", token, errBoom)
	fc.Advance(time.Second)

	if _, err := cb.Allow("db"); err != nil {
		t.Fatalf("expected first probe admitted, got %v", err)
	}
	if _, err := cb.Allow("db"); !IsCircuitOpen(err) {
		t.Errorf("expected second concurrent probe rejected, got %v", err)
	}
}

func TestCircuitBreaker_StaleTokenIgnored(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	cb := newTestBreaker(fc, CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Second,
	})

	stale, _ := cb.Allow("db")

	// Trip and recover through a separate admission.
	token, _ := cb.Allow("db")
	cb.RecordResult("db", token, errBoom)
	fc.Advance(time.Second)
	probe, _ := cb.Allow("db")
	cb.RecordResult("db", probe, nil)

	if got := cb.State("db"); got != StateClosed {
		t.Fatalf("expected closed, got %s", got)
	}

	// The pre-trip token must not affect the recovered breaker.
	cb.RecordResult("db", stale, errBoom)
	if got := cb.Failures("db"); got != 0 {
		t.Errorf("stale result was counted: %d failures", got)
	}
}

func TestCircuitBreaker_KeysAreIndependent(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	cb := newTestBreaker(fc, CircuitBreakerConfig{FailureThreshold: 1})

	token, _ := cb.Allow("db")
	cb.RecordResult("db", token, errBoom)

	if got := cb.State("db"); got != StateOpen {
		t.Fatalf("expected db open, got %s", got)
	}
	if got := cb.State("cache"); got != StateClosed {
		t.Errorf("expected cache unaffected, got %s", got)
	}
}

func TestCircuitBreaker_StateChangeHookOrder(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))

	var mu sync.Mutex
	var seen []string
	cb := newTestBreaker(fc, CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Second,
		OnStateChange: func(key string, from, to State) {
			mu.Lock()
			seen = append(seen, from.String()+"->"+to.String())
			mu.Unlock()
		},
	})

	token, _ := cb.Allow("db")
	cb.RecordResult("db", token, errBoom)

	fc.Advance(time.Second)
	token, err := cb.Allow("db")
	if err != nil {
		t.Fatalf("expected probe admission, got %v", err)
	}
	cb.RecordResult("db", token, nil)

	want := []string{"closed->open", "open->half-open", "half-open->closed"}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != len(want) {
		t.Fatalf("expected %d transitions, got %v", len(want), seen)
	}
	for i, w := range want {
		if seen[i] != w {
			t.Fatalf("transition %d: expected %q, got %v", i, w, seen)
		}
	}
}

func TestCircuitBreaker_ConcurrentTrip(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))

	var transitions int
	var mu sync.Mutex
	cb := newTestBreaker(fc, CircuitBreakerConfig{
		FailureThreshold: 10,
		WindowDuration:   time.Minute,
		OnStateChange: func(key string, from, to State) {
			mu.Lock()
			if to == StateOpen {
				transitions++
			}
			mu.Unlock()
		},
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := cb.Allow("db")
			if err != nil {
				return
			}
			cb.RecordResult("db", token, errBoom)
		}()
	}
	wg.Wait()

	if got := cb.State("db"); got != StateOpen {
		t.Fatalf("expected open, got %s", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if transitions != 1 {
		t.Errorf("expected exactly one closed->open transition, got %d", transitions)
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	cb := newTestBreaker(fc, CircuitBreakerConfig{FailureThreshold: 1})

	token, _ := cb.Allow("db")
	cb.RecordResult("db", token, errBoom)
	cb.Reset("db")

	if got := cb.State("db"); got != StateClosed {
		t.Errorf("expected closed after reset, got %s", got)
	}
	if _, err := cb.Allow("db"); err != nil {
		t.Errorf("expected admission after reset, got %v", err)
	}
}

func TestCircuitBreaker_Scenario(t *testing.T) {
	// failure_threshold=3, window=10s, recovery_timeout=5s.
	// Failures at t=0,1,2 open the breaker at t=2; a call at t=6 is
	// admitted as a half-open probe; its success closes the breaker.
	start := time.Unix(0, 0)
	fc := clock.NewFake(start)
	cb := newTestBreaker(fc, CircuitBreakerConfig{
		FailureThreshold: 3,
		WindowDuration:   10 * time.Second,
		RecoveryTimeout:  5 * time.Second,
	})

	for i := 0; i < 3; i++ {
		fc.Set(start.Add(time.Duration(i) * time.Second))
		token, err := cb.Allow("payments")
		if err != nil {
			t.Fatalf("failure %d not admitted: %v", i, err)
		}
		cb.RecordResult("payments", token, errBoom)
	}
	if got := cb.State("payments"); got != StateOpen {
		t.Fatalf("expected open at t=2, got %s", got)
	}

	fc.Set(start.Add(6 * time.Second))
	token, err := cb.Allow("payments")
	if err != nil {
		t.Fatalf("expected probe admitted at t=6, got %v", err)
	}
	cb.RecordResult("payments", token, nil)

	if got := cb.State("payments"); got != StateClosed {
		t.Errorf("expected closed after probe success, got %s", got)
	}
	if got := cb.Failures("payments"); got != 0 {
		t.Errorf("expected consecutive_failures=0, got %d", got)
	}
}

func TestCircuitBreaker_Execute(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	cb := newTestBreaker(fc, CircuitBreakerConfig{FailureThreshold: 1})

	if err := cb.Execute("db", func() error { return errBoom }); err != errBoom {
		t.Fatalf("expected underlying error, got %v", err)
	}
	err := cb.Execute("db", func() error {
		t.Error("function must not run while open")
		return nil
	})
	if !IsCircuitOpen(err) {
		t.Errorf("expected CircuitOpenError, got %v", err)
	}
}

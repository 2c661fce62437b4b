package resilience

import (
	"sync"
	"time"

	"github.com/kbukum/guardkit/clock"
	"github.com/kbukum/guardkit/logger"
)

// State represents the circuit breaker state for one key.
type State int

const (
	// StateClosed allows requests to pass through.
	StateClosed State = iota
	// StateOpen blocks all requests.
	StateOpen
	// StateHalfOpen allows a limited number of probes to test recovery.
	StateHalfOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ProbeToken ties a RecordResult call back to the admission that produced
// it. A token from a superseded state generation is ignored, so a slow
// caller reporting after the breaker already flipped cannot corrupt the
// state machine.
type ProbeToken struct {
	generation uint64
	halfOpen   bool
}

// CircuitBreakerConfig configures a keyed circuit breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures within
	// WindowDuration that opens the circuit.
	FailureThreshold int
	// WindowDuration is the rolling window; failures older than this are
	// not counted toward the threshold.
	WindowDuration time.Duration
	// RecoveryTimeout is how long an open circuit waits before admitting
	// half-open probes.
	RecoveryTimeout time.Duration
	// HalfOpenMaxProbes is the number of concurrent probes admitted in
	// half-open state.
	HalfOpenMaxProbes int
	// OnStateChange is called after a state transition, outside the
	// per-key lock.
	OnStateChange func(key string, from, to State)
	// OnReject is called when an admission is refused.
	OnReject func(key string)

	// Clock is the time source. Defaults to the system clock.
	Clock clock.Clock
	// Logger logs state transitions. Defaults to a no-op logger.
	Logger *logger.Logger
	// Metrics records admissions and rejections. Optional.
	Metrics *Collector
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:  5,
		WindowDuration:    60 * time.Second,
		RecoveryTimeout:   30 * time.Second,
		HalfOpenMaxProbes: 1,
	}
}

// CircuitBreaker is a keyed three-state failure tripwire. It fails fast
// against dependencies observed to be unhealthy and probes for recovery
// without overwhelming them.
//
// Per-key state is created lazily on first use and lives for the process
// lifetime. Time-based transitions (open -> half-open) are evaluated
// lazily on the next admission check; there are no background timers.
type CircuitBreaker struct {
	config  CircuitBreakerConfig
	clock   clock.Clock
	log     *logger.Logger
	records *registry[breakerRecord]
}

type breakerRecord struct {
	mu sync.Mutex

	state State
	// generation increments on every state transition; probe tokens from
	// older generations are stale.
	generation uint64
	// failures holds timestamps of consecutive failures, oldest first.
	// A success clears it.
	failures       []time.Time
	openedAt       time.Time
	probesInFlight int
}

// NewCircuitBreaker creates a new keyed circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.WindowDuration <= 0 {
		config.WindowDuration = 60 * time.Second
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 30 * time.Second
	}
	if config.HalfOpenMaxProbes <= 0 {
		config.HalfOpenMaxProbes = 1
	}
	if config.Clock == nil {
		config.Clock = clock.System()
	}
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}

	return &CircuitBreaker{
		config:  config,
		clock:   config.Clock,
		log:     config.Logger.WithComponent(ComponentCircuitBreaker),
		records: newRegistry(func(string) *breakerRecord { return &breakerRecord{state: StateClosed} }),
	}
}

// Allow checks whether a call for key may proceed. On admission it
// returns a token that must be passed to RecordResult with the call's
// outcome. On rejection it returns a CircuitOpenError.
func (cb *CircuitBreaker) Allow(key string) (ProbeToken, error) {
	rec := cb.records.get(key)

	rec.mu.Lock()
	transition := cb.resolveLocked(key, rec)

	var token ProbeToken
	admitted := false
	switch rec.state {
	case StateClosed:
		token = ProbeToken{generation: rec.generation}
		admitted = true
	case StateHalfOpen:
		if rec.probesInFlight < cb.config.HalfOpenMaxProbes {
			rec.probesInFlight++
			token = ProbeToken{generation: rec.generation, halfOpen: true}
			admitted = true
		}
	}
	rec.mu.Unlock()

	if transition != nil {
		transition()
	}
	if admitted {
		cb.config.Metrics.Admit(ComponentCircuitBreaker, key)
		return token, nil
	}

	cb.config.Metrics.Reject(ComponentCircuitBreaker, key)
	if cb.config.OnReject != nil {
		cb.config.OnReject(key)
	}
	return ProbeToken{}, &CircuitOpenError{Key: key}
}

// RecordResult reports the outcome of an admitted call. A nil err counts
// as success. Results carrying a stale token are ignored.
func (cb *CircuitBreaker) RecordResult(key string, token ProbeToken, err error) {
	rec := cb.records.get(key)

	rec.mu.Lock()
	if token.generation != rec.generation {
		rec.mu.Unlock()
		return
	}

	var transition func()
	if err != nil {
		transition = cb.onFailureLocked(key, rec)
	} else {
		transition = cb.onSuccessLocked(key, rec)
	}
	rec.mu.Unlock()

	if transition != nil {
		transition()
	}
}

// Execute runs fn through the breaker: one Allow, one RecordResult.
func (cb *CircuitBreaker) Execute(key string, fn func() error) error {
	token, err := cb.Allow(key)
	if err != nil {
		return err
	}
	err = fn()
	cb.RecordResult(key, token, err)
	return err
}

// State returns the current state for key, applying any pending
// time-based transition.
func (cb *CircuitBreaker) State(key string) State {
	rec, ok := cb.records.lookup(key)
	if !ok {
		return StateClosed
	}
	rec.mu.Lock()
	transition := cb.resolveLocked(key, rec)
	state := rec.state
	rec.mu.Unlock()
	if transition != nil {
		transition()
	}
	return state
}

// States returns the current state of every key seen so far.
func (cb *CircuitBreaker) States() map[string]State {
	out := make(map[string]State)
	cb.records.each(func(key string, rec *breakerRecord) {
		rec.mu.Lock()
		transition := cb.resolveLocked(key, rec)
		out[key] = rec.state
		rec.mu.Unlock()
		if transition != nil {
			transition()
		}
	})
	return out
}

// Failures returns the number of failures currently inside the rolling
// window for key.
func (cb *CircuitBreaker) Failures(key string) int {
	rec, ok := cb.records.lookup(key)
	if !ok {
		return 0
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	cb.trimWindowLocked(rec)
	return len(rec.failures)
}

// Reset forces the breaker for key back to closed with a clean window.
func (cb *CircuitBreaker) Reset(key string) {
	rec := cb.records.get(key)
	rec.mu.Lock()
	transition := cb.toStateLocked(key, rec, StateClosed)
	rec.failures = rec.failures[:0]
	rec.mu.Unlock()
	if transition != nil {
		transition()
	}
}

// resolveLocked applies the lazy open -> half-open transition. The
// returned hook closure, if any, must be invoked after the record lock
// is released so observers see transitions in order.
func (cb *CircuitBreaker) resolveLocked(key string, rec *breakerRecord) func() {
	if rec.state == StateOpen && cb.clock.Since(rec.openedAt) >= cb.config.RecoveryTimeout {
		return cb.toStateLocked(key, rec, StateHalfOpen)
	}
	return nil
}

func (cb *CircuitBreaker) onSuccessLocked(key string, rec *breakerRecord) func() {
	switch rec.state {
	case StateClosed:
		rec.failures = rec.failures[:0]
	case StateHalfOpen:
		return cb.toStateLocked(key, rec, StateClosed)
	}
	return nil
}

func (cb *CircuitBreaker) onFailureLocked(key string, rec *breakerRecord) func() {
	switch rec.state {
	case StateClosed:
		now := cb.clock.Now()
		rec.failures = append(rec.failures, now)
		cb.trimWindowLocked(rec)
		if len(rec.failures) >= cb.config.FailureThreshold {
			rec.openedAt = now
			return cb.toStateLocked(key, rec, StateOpen)
		}
	case StateHalfOpen:
		rec.openedAt = cb.clock.Now()
		return cb.toStateLocked(key, rec, StateOpen)
	}
	return nil
}

// trimWindowLocked drops failures that aged out of the rolling window.
func (cb *CircuitBreaker) trimWindowLocked(rec *breakerRecord) {
	cutoff := cb.clock.Now().Add(-cb.config.WindowDuration)
	i := 0
	for i < len(rec.failures) && !rec.failures[i].After(cutoff) {
		i++
	}
	if i > 0 {
		rec.failures = append(rec.failures[:0], rec.failures[i:]...)
	}
}

// toStateLocked transitions the record and returns a function that fires
// logging and the OnStateChange hook. The caller invokes it after
// releasing the record lock.
func (cb *CircuitBreaker) toStateLocked(key string, rec *breakerRecord, to State) func() {
	if rec.state == to {
		return nil
	}

	from := rec.state
	rec.state = to
	rec.generation++
	rec.probesInFlight = 0
	if to == StateClosed {
		rec.failures = rec.failures[:0]
	}

	return func() {
		cb.log.Info("circuit state changed", logger.Fields(
			logger.FieldKey, key,
			logger.FieldFromState, from.String(),
			logger.FieldToState, to.String(),
		))
		if cb.config.OnStateChange != nil {
			cb.config.OnStateChange(key, from, to)
		}
	}
}

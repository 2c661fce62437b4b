package resilience

import (
	"fmt"
	"time"
)

// Policy is the caller-facing configuration for one Executor. It covers
// all four in-process components and carries mapstructure tags so policy
// sets can be loaded from config files.
type Policy struct {
	// Circuit breaker tuning.
	FailureThreshold  int           `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	WindowDuration    time.Duration `yaml:"window_duration" mapstructure:"window_duration"`
	RecoveryTimeout   time.Duration `yaml:"recovery_timeout" mapstructure:"recovery_timeout"`
	HalfOpenMaxProbes int           `yaml:"half_open_max_probes" mapstructure:"half_open_max_probes"`

	// Rate limiter tuning.
	Capacity   float64 `yaml:"capacity" mapstructure:"capacity"`
	RefillRate float64 `yaml:"refill_rate" mapstructure:"refill_rate"`
	// Blocking selects the blocking acquisition mode: each attempt waits
	// for tokens (up to WaitTimeout) instead of failing fast.
	Blocking    bool          `yaml:"blocking" mapstructure:"blocking"`
	WaitTimeout time.Duration `yaml:"wait_timeout" mapstructure:"wait_timeout"`

	// Bulkhead tuning.
	MaxConcurrency int `yaml:"max_concurrency" mapstructure:"max_concurrency"`
	// QueueMode makes full bulkheads queue callers (FIFO) instead of
	// rejecting them outright.
	QueueMode    bool          `yaml:"queue_mode" mapstructure:"queue_mode"`
	QueueTimeout time.Duration `yaml:"queue_timeout" mapstructure:"queue_timeout"`
	MaxQueue     int           `yaml:"max_queue" mapstructure:"max_queue"`

	// Retry tuning. MaxAttempts is the number of retries after the
	// initial attempt.
	MaxAttempts int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay" mapstructure:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay" mapstructure:"max_delay"`
	// JitterFraction spreads each delay by a random amount in
	// [0, delay*JitterFraction). Zero means the default; set a negative
	// value to disable jitter.
	JitterFraction float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`

	// Idempotent asserts that the protected operation can safely be
	// repeated. Validate rejects retry-enabled policies without it.
	// This is a caller contract; the library cannot verify it.
	Idempotent bool `yaml:"idempotent" mapstructure:"idempotent"`
}

// DefaultPolicy returns a policy with conservative defaults and retries
// disabled (enabling them requires declaring the operation idempotent).
func DefaultPolicy() Policy {
	return Policy{
		FailureThreshold:  5,
		WindowDuration:    60 * time.Second,
		RecoveryTimeout:   30 * time.Second,
		HalfOpenMaxProbes: 1,

		Capacity:   20,
		RefillRate: 10,

		MaxConcurrency: 10,

		MaxAttempts:    0,
		BaseDelay:      100 * time.Millisecond,
		MaxDelay:       10 * time.Second,
		JitterFraction: 0.2,
	}
}

// ApplyDefaults fills zero-valued fields with the defaults.
func (p *Policy) ApplyDefaults() {
	def := DefaultPolicy()

	if p.FailureThreshold <= 0 {
		p.FailureThreshold = def.FailureThreshold
	}
	if p.WindowDuration <= 0 {
		p.WindowDuration = def.WindowDuration
	}
	if p.RecoveryTimeout <= 0 {
		p.RecoveryTimeout = def.RecoveryTimeout
	}
	if p.HalfOpenMaxProbes <= 0 {
		p.HalfOpenMaxProbes = def.HalfOpenMaxProbes
	}
	if p.RefillRate <= 0 {
		p.RefillRate = def.RefillRate
	}
	if p.Capacity <= 0 {
		p.Capacity = p.RefillRate
	}
	if p.MaxConcurrency <= 0 {
		p.MaxConcurrency = def.MaxConcurrency
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.JitterFraction == 0 {
		p.JitterFraction = def.JitterFraction
	} else if p.JitterFraction < 0 {
		p.JitterFraction = 0
	}
}

// Validate checks the policy for contradictions. It is the configuration
// error surface: admission rejections at runtime are typed errors, never
// panics, but a misconfigured policy is refused up front.
func (p *Policy) Validate() error {
	if p.MaxAttempts > 0 && !p.Idempotent {
		return fmt.Errorf("policy: max_attempts=%d requires idempotent=true; retries may only wrap operations declared idempotent", p.MaxAttempts)
	}
	if p.MaxAttempts < 0 {
		return fmt.Errorf("policy: max_attempts must be >= 0 (got %d)", p.MaxAttempts)
	}
	if p.JitterFraction < 0 || p.JitterFraction >= 1 {
		return fmt.Errorf("policy: jitter_fraction must be in [0, 1) (got %g)", p.JitterFraction)
	}
	if p.MaxDelay < p.BaseDelay {
		return fmt.Errorf("policy: max_delay %v must be >= base_delay %v", p.MaxDelay, p.BaseDelay)
	}
	if p.Capacity < 1 {
		return fmt.Errorf("policy: capacity must be >= 1 (got %g)", p.Capacity)
	}
	if p.RefillRate <= 0 {
		return fmt.Errorf("policy: refill_rate must be > 0 (got %g)", p.RefillRate)
	}
	if p.Blocking && p.WaitTimeout < 0 {
		return fmt.Errorf("policy: wait_timeout must be >= 0 (got %v)", p.WaitTimeout)
	}
	if p.QueueMode && p.QueueTimeout <= 0 {
		return fmt.Errorf("policy: queue_mode requires queue_timeout > 0")
	}
	if p.MaxQueue < 0 {
		return fmt.Errorf("policy: max_queue must be >= 0 (got %d)", p.MaxQueue)
	}
	if p.HalfOpenMaxProbes < 1 {
		return fmt.Errorf("policy: half_open_max_probes must be >= 1 (got %d)", p.HalfOpenMaxProbes)
	}
	return nil
}

package resilience

import (
	"testing"
	"time"
)

func TestPolicy_DefaultsAreValid(t *testing.T) {
	p := DefaultPolicy()
	if err := p.Validate(); err != nil {
		t.Fatalf("default policy failed validation: %v", err)
	}
	if p.MaxAttempts != 0 {
		t.Error("default policy must not enable retries")
	}
}

func TestPolicy_ApplyDefaults(t *testing.T) {
	var p Policy
	p.ApplyDefaults()

	if p.FailureThreshold != 5 {
		t.Errorf("expected failure threshold 5, got %d", p.FailureThreshold)
	}
	if p.WindowDuration != 60*time.Second {
		t.Errorf("expected 60s window, got %v", p.WindowDuration)
	}
	if p.Capacity != p.RefillRate {
		t.Errorf("expected capacity to default to refill rate, got %g vs %g", p.Capacity, p.RefillRate)
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("zero policy after defaults failed validation: %v", err)
	}
}

func TestPolicy_ApplyDefaultsKeepsExplicitValues(t *testing.T) {
	p := Policy{FailureThreshold: 2, Capacity: 100, RefillRate: 1}
	p.ApplyDefaults()

	if p.FailureThreshold != 2 {
		t.Errorf("explicit failure threshold overwritten: %d", p.FailureThreshold)
	}
	if p.Capacity != 100 {
		t.Errorf("explicit capacity overwritten: %g", p.Capacity)
	}
}

func TestPolicy_ApplyDefaultsNegativeJitterDisablesJitter(t *testing.T) {
	p := DefaultPolicy()
	p.JitterFraction = -1
	p.ApplyDefaults()

	if p.JitterFraction != 0 {
		t.Errorf("expected negative jitter fraction clamped to 0, got %g", p.JitterFraction)
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("jitter-free policy failed validation: %v", err)
	}
}

func TestPolicy_ValidateRejections(t *testing.T) {
	base := DefaultPolicy()

	cases := []struct {
		name   string
		mutate func(*Policy)
	}{
		{"retry without idempotent", func(p *Policy) { p.MaxAttempts = 3; p.Idempotent = false }},
		{"negative max attempts", func(p *Policy) { p.MaxAttempts = -1 }},
		{"jitter fraction at one", func(p *Policy) { p.JitterFraction = 1 }},
		{"negative jitter fraction", func(p *Policy) { p.JitterFraction = -0.1 }},
		{"max delay below base delay", func(p *Policy) { p.MaxDelay = 10 * time.Millisecond }},
		{"capacity below one", func(p *Policy) { p.Capacity = 0.5 }},
		{"zero refill rate", func(p *Policy) { p.RefillRate = 0 }},
		{"blocking with negative wait timeout", func(p *Policy) { p.Blocking = true; p.WaitTimeout = -time.Second }},
		{"queue mode without queue timeout", func(p *Policy) { p.QueueMode = true }},
		{"negative max queue", func(p *Policy) { p.MaxQueue = -1 }},
		{"zero half-open probes", func(p *Policy) { p.HalfOpenMaxProbes = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := base
			tc.mutate(&p)
			if err := p.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestPolicy_ValidateAcceptsIdempotentRetry(t *testing.T) {
	p := DefaultPolicy()
	p.MaxAttempts = 3
	p.Idempotent = true
	if err := p.Validate(); err != nil {
		t.Fatalf("idempotent retry policy rejected: %v", err)
	}
}

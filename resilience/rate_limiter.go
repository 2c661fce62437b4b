package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/kbukum/guardkit/clock"
	"github.com/kbukum/guardkit/logger"
)

// RateLimiterConfig configures a keyed token-bucket rate limiter.
type RateLimiterConfig struct {
	// Capacity is the maximum number of tokens a bucket holds.
	Capacity float64
	// RefillRate is the continuous refill rate in tokens per second.
	RefillRate float64
	// WaitTimeout bounds how long Wait blocks for tokens. Zero means
	// Wait is bounded only by the caller's context.
	WaitTimeout time.Duration
	// OnReject is called when an acquisition is rejected.
	OnReject func(key string)

	// Clock is the time source. Defaults to the system clock.
	Clock clock.Clock
	// Logger logs rejections at debug level. Defaults to a no-op logger.
	Logger *logger.Logger
	// Metrics records admissions and rejections. Optional.
	Metrics *Collector
}

// DefaultRateLimiterConfig returns sensible defaults.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		Capacity:   20,
		RefillRate: 10,
	}
}

// RateLimiter bounds the admission rate of calls per dependency key
// using a token bucket. Buckets are created full on first use of a key
// and refilled lazily from elapsed clock time.
type RateLimiter struct {
	config  RateLimiterConfig
	clock   clock.Clock
	log     *logger.Logger
	buckets *registry[bucketRecord]
}

type bucketRecord struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// NewRateLimiter creates a new keyed rate limiter.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.RefillRate <= 0 {
		config.RefillRate = 10
	}
	if config.Capacity <= 0 {
		config.Capacity = config.RefillRate
	}
	if config.Clock == nil {
		config.Clock = clock.System()
	}
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}

	rl := &RateLimiter{
		config: config,
		clock:  config.Clock,
		log:    config.Logger.WithComponent(ComponentRateLimiter),
	}
	rl.buckets = newRegistry(func(string) *bucketRecord {
		return &bucketRecord{tokens: config.Capacity, lastRefill: rl.clock.Now()}
	})
	return rl
}

// Allow attempts to take cost tokens from the bucket for key without
// blocking. It returns a RateLimitError when the bucket cannot satisfy
// the request now, or ever (cost above capacity).
func (rl *RateLimiter) Allow(key string, cost int) error {
	if float64(cost) > rl.config.Capacity {
		return rl.reject(key, cost)
	}

	b := rl.buckets.get(key)
	b.mu.Lock()
	rl.refillLocked(b)
	if b.tokens >= float64(cost) {
		b.tokens -= float64(cost)
		b.mu.Unlock()
		rl.config.Metrics.Admit(ComponentRateLimiter, key)
		return nil
	}
	b.mu.Unlock()

	return rl.reject(key, cost)
}

// Wait blocks until cost tokens are available for key, the configured
// WaitTimeout elapses, or ctx is cancelled. A cost above capacity is
// rejected immediately since it can never be satisfied.
func (rl *RateLimiter) Wait(ctx context.Context, key string, cost int) error {
	if float64(cost) > rl.config.Capacity {
		return rl.reject(key, cost)
	}

	start := rl.clock.Now()
	b := rl.buckets.get(key)

	for {
		b.mu.Lock()
		rl.refillLocked(b)
		if b.tokens >= float64(cost) {
			b.tokens -= float64(cost)
			b.mu.Unlock()
			rl.config.Metrics.Admit(ComponentRateLimiter, key)
			return nil
		}
		needed := float64(cost) - b.tokens
		b.mu.Unlock()

		wait := time.Duration(needed / rl.config.RefillRate * float64(time.Second))

		if rl.config.WaitTimeout > 0 {
			remaining := rl.config.WaitTimeout - rl.clock.Since(start)
			if remaining <= 0 {
				rl.config.Metrics.Reject(ComponentRateLimiter, key)
				return &TimeoutError{Key: key, Op: "rate limiter wait"}
			}
			if wait > remaining {
				wait = remaining
			}
		}

		if err := rl.clock.Sleep(ctx, wait); err != nil {
			rl.config.Metrics.Reject(ComponentRateLimiter, key)
			return err
		}
	}
}

// Tokens returns the current token count for key after refill. A key
// never seen reports a full bucket.
func (rl *RateLimiter) Tokens(key string) float64 {
	b, ok := rl.buckets.lookup(key)
	if !ok {
		return rl.config.Capacity
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	rl.refillLocked(b)
	return b.tokens
}

// Capacity returns the configured bucket capacity.
func (rl *RateLimiter) Capacity() float64 { return rl.config.Capacity }

// refillLocked adds tokens for the time elapsed since the last refill.
// Elapsed time is clamped at zero so a clock going backwards cannot
// drain the bucket.
func (rl *RateLimiter) refillLocked(b *bucketRecord) {
	now := rl.clock.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.lastRefill = now

	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * rl.config.RefillRate
	if b.tokens > rl.config.Capacity {
		b.tokens = rl.config.Capacity
	}
}

func (rl *RateLimiter) reject(key string, cost int) error {
	rl.config.Metrics.Reject(ComponentRateLimiter, key)
	if rl.config.OnReject != nil {
		rl.config.OnReject(key)
	}
	rl.log.Debug("rate limit exceeded", logger.Fields(logger.FieldKey, key))
	return &RateLimitError{Key: key, Cost: cost}
}

package resilience

import (
	"sync"
	"sync/atomic"
)

// Component names used in metric snapshots.
const (
	ComponentBulkhead       = "bulkhead"
	ComponentCircuitBreaker = "circuit_breaker"
	ComponentRateLimiter    = "rate_limiter"
	ComponentRetry          = "retry"
)

// Counters holds admission counts for one component and key.
type Counters struct {
	Admitted uint64
	Rejected uint64
}

// Snapshot is a point-in-time, read-only view of all counters.
// Components maps component name -> dependency key -> counters.
type Snapshot struct {
	Components map[string]map[string]Counters
}

// Collector accumulates per-component per-key admission counters.
// All methods are safe for concurrent use. A nil Collector is valid and
// records nothing, so components never need to nil-check at call sites
// beyond the receiver.
type Collector struct {
	mu       sync.RWMutex
	counters map[string]map[string]*counterPair
}

type counterPair struct {
	admitted atomic.Uint64
	rejected atomic.Uint64
}

// NewCollector creates an empty metrics collector.
func NewCollector() *Collector {
	return &Collector{counters: make(map[string]map[string]*counterPair)}
}

// Admit records an admission for the given component and key.
func (c *Collector) Admit(component, key string) {
	if c == nil {
		return
	}
	c.pair(component, key).admitted.Add(1)
}

// Reject records a rejection for the given component and key.
func (c *Collector) Reject(component, key string) {
	if c == nil {
		return
	}
	c.pair(component, key).rejected.Add(1)
}

// Snapshot returns a copy of all counters.
func (c *Collector) Snapshot() Snapshot {
	snap := Snapshot{Components: make(map[string]map[string]Counters)}
	if c == nil {
		return snap
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for component, keys := range c.counters {
		out := make(map[string]Counters, len(keys))
		for key, pair := range keys {
			out[key] = Counters{
				Admitted: pair.admitted.Load(),
				Rejected: pair.rejected.Load(),
			}
		}
		snap.Components[component] = out
	}
	return snap
}

func (c *Collector) pair(component, key string) *counterPair {
	c.mu.RLock()
	keys, ok := c.counters[component]
	if ok {
		pair, ok := keys[key]
		c.mu.RUnlock()
		if ok {
			return pair
		}
	} else {
		c.mu.RUnlock()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	keys, ok = c.counters[component]
	if !ok {
		keys = make(map[string]*counterPair)
		c.counters[component] = keys
	}
	pair, ok := keys[key]
	if !ok {
		pair = &counterPair{}
		keys[key] = pair
	}
	return pair
}

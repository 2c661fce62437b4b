package resilience

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// shardCount is the number of lock stripes per keyed registry. Unrelated
// dependency keys almost never contend on the same map lock.
const shardCount = 32

// registry is an N-way sharded map of lazily created per-key records.
// The shard lock guards only the map; each record carries its own mutex
// so key-level critical sections never hold a shard lock.
type registry[T any] struct {
	newRecord func(key string) *T
	shards    [shardCount]regShard[T]
}

type regShard[T any] struct {
	mu      sync.RWMutex
	records map[string]*T
}

func newRegistry[T any](newRecord func(key string) *T) *registry[T] {
	r := &registry[T]{newRecord: newRecord}
	for i := range r.shards {
		r.shards[i].records = make(map[string]*T)
	}
	return r
}

func shardIndex(key string) uint64 {
	return xxhash.Sum64String(key) % shardCount
}

// get returns the record for key, creating it on first use.
func (r *registry[T]) get(key string) *T {
	s := &r.shards[shardIndex(key)]

	s.mu.RLock()
	rec, ok := s.records[key]
	s.mu.RUnlock()
	if ok {
		return rec
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[key]; ok {
		return rec
	}
	rec = r.newRecord(key)
	s.records[key] = rec
	return rec
}

// lookup returns the record for key without creating it.
func (r *registry[T]) lookup(key string) (*T, bool) {
	s := &r.shards[shardIndex(key)]
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	return rec, ok
}

// each calls fn for every known key and record.
func (r *registry[T]) each(fn func(key string, rec *T)) {
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		for key, rec := range s.records {
			fn(key, rec)
		}
		s.mu.RUnlock()
	}
}

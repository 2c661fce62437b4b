package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/kbukum/guardkit/clock"
	"github.com/kbukum/guardkit/logger"
)

// ReleaseFunc returns a bulkhead slot. It must be called exactly once per
// successful Acquire; extra calls are no-ops.
type ReleaseFunc func()

// BulkheadConfig configures a keyed bulkhead.
type BulkheadConfig struct {
	// MaxConcurrent is the maximum number of in-flight calls per key.
	MaxConcurrent int
	// MaxWait is how long Acquire queues for a slot. Zero means fail
	// fast when all slots are taken.
	MaxWait time.Duration
	// MaxQueue bounds the waiter queue when MaxWait is set. Zero means
	// the queue is bounded only by MaxWait.
	MaxQueue int
	// OnReject is called when an acquisition is rejected.
	OnReject func(key string)

	// Clock is the time source. Defaults to the system clock.
	Clock clock.Clock
	// Logger logs rejections at debug level. Defaults to a no-op logger.
	Logger *logger.Logger
	// Metrics records admissions and rejections. Optional.
	Metrics *Collector
}

// DefaultBulkheadConfig returns sensible defaults.
func DefaultBulkheadConfig() BulkheadConfig {
	return BulkheadConfig{
		MaxConcurrent: 10,
	}
}

// Bulkhead caps concurrent in-flight calls per dependency key so one
// slow dependency cannot exhaust resources shared with others. Queued
// waiters are admitted in strict FIFO order.
type Bulkhead struct {
	config  BulkheadConfig
	clock   clock.Clock
	log     *logger.Logger
	records *registry[bulkheadRecord]
}

type bulkheadRecord struct {
	mu       sync.Mutex
	inFlight int
	waiters  []*bulkheadWaiter
}

type bulkheadWaiter struct {
	ready chan struct{}
	// granted is written under the record lock. When true, the slot was
	// handed to this waiter and it is responsible for releasing it.
	granted bool
}

// NewBulkhead creates a new keyed bulkhead.
func NewBulkhead(config BulkheadConfig) *Bulkhead {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 10
	}
	if config.Clock == nil {
		config.Clock = clock.System()
	}
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}

	return &Bulkhead{
		config:  config,
		clock:   config.Clock,
		log:     config.Logger.WithComponent(ComponentBulkhead),
		records: newRegistry(func(string) *bulkheadRecord { return &bulkheadRecord{} }),
	}
}

// Acquire claims an execution slot for key. In fail-fast mode it returns
// a BulkheadFullError when all slots are taken; in queue mode it waits
// up to MaxWait (and respects ctx) before returning a TimeoutError.
// The returned ReleaseFunc must be called once the work is done.
func (b *Bulkhead) Acquire(ctx context.Context, key string) (ReleaseFunc, error) {
	rec := b.records.get(key)

	rec.mu.Lock()
	if rec.inFlight < b.config.MaxConcurrent {
		rec.inFlight++
		rec.mu.Unlock()
		b.config.Metrics.Admit(ComponentBulkhead, key)
		return b.releaseFunc(rec), nil
	}

	if b.config.MaxWait <= 0 {
		rec.mu.Unlock()
		return nil, b.reject(key)
	}
	if b.config.MaxQueue > 0 && len(rec.waiters) >= b.config.MaxQueue {
		rec.mu.Unlock()
		return nil, b.reject(key)
	}

	w := &bulkheadWaiter{ready: make(chan struct{})}
	rec.waiters = append(rec.waiters, w)
	rec.mu.Unlock()

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	timedOut := make(chan struct{})
	go func() {
		if b.clock.Sleep(waitCtx, b.config.MaxWait) == nil {
			close(timedOut)
		}
	}()

	select {
	case <-w.ready:
		b.config.Metrics.Admit(ComponentBulkhead, key)
		return b.releaseFunc(rec), nil

	case <-timedOut:
		if b.abandonWaiter(rec, w) {
			// The slot was granted while we were timing out; hand it on.
			b.config.Metrics.Admit(ComponentBulkhead, key)
			return b.releaseFunc(rec), nil
		}
		b.config.Metrics.Reject(ComponentBulkhead, key)
		return nil, &TimeoutError{Key: key, Op: "bulkhead acquire"}

	case <-ctx.Done():
		if b.abandonWaiter(rec, w) {
			b.config.Metrics.Admit(ComponentBulkhead, key)
			return b.releaseFunc(rec), nil
		}
		b.config.Metrics.Reject(ComponentBulkhead, key)
		return nil, ctx.Err()
	}
}

// Execute runs fn inside a bulkhead slot for key.
func (b *Bulkhead) Execute(ctx context.Context, key string, fn func() error) error {
	release, err := b.Acquire(ctx, key)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// InUse returns the number of slots currently held for key.
func (b *Bulkhead) InUse(key string) int {
	rec, ok := b.records.lookup(key)
	if !ok {
		return 0
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.inFlight
}

// Queued returns the number of callers waiting for a slot for key.
func (b *Bulkhead) Queued(key string) int {
	rec, ok := b.records.lookup(key)
	if !ok {
		return 0
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return len(rec.waiters)
}

// releaseFunc builds the exactly-once release for a held slot. Releasing
// hands the slot to the oldest waiter if one is queued; otherwise the
// in-flight count drops.
func (b *Bulkhead) releaseFunc(rec *bulkheadRecord) ReleaseFunc {
	var once sync.Once
	return func() {
		once.Do(func() {
			rec.mu.Lock()
			if len(rec.waiters) > 0 {
				w := rec.waiters[0]
				rec.waiters = rec.waiters[1:]
				w.granted = true
				close(w.ready)
				// Slot transfers to the waiter; inFlight is unchanged.
				rec.mu.Unlock()
				return
			}
			rec.inFlight--
			rec.mu.Unlock()
		})
	}
}

// abandonWaiter removes w from the queue after a timeout or
// cancellation. It returns true when the slot was already granted, in
// which case ownership has passed to the caller.
func (b *Bulkhead) abandonWaiter(rec *bulkheadRecord, w *bulkheadWaiter) bool {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if w.granted {
		return true
	}
	for i, queued := range rec.waiters {
		if queued == w {
			rec.waiters = append(rec.waiters[:i], rec.waiters[i+1:]...)
			break
		}
	}
	return false
}

func (b *Bulkhead) reject(key string) error {
	b.config.Metrics.Reject(ComponentBulkhead, key)
	if b.config.OnReject != nil {
		b.config.OnReject(key)
	}
	b.log.Debug("bulkhead full", logger.Fields(logger.FieldKey, key))
	return &BulkheadFullError{Key: key}
}

package dlock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/kbukum/guardkit/clock"
	"github.com/kbukum/guardkit/logger"
)

// Handle identifies one acquired lock. The owner token is what makes
// release and extension safe against TTL-expiry reclamation.
type Handle struct {
	key   string
	owner string
	ttl   time.Duration
}

// Key returns the locked key.
func (h *Handle) Key() string { return h.key }

// Owner returns the owner token stored under the key.
func (h *Handle) Owner() string { return h.owner }

// Option configures a Locker.
type Option func(*Locker)

// WithClock sets the time source used for acquisition backoff.
func WithClock(c clock.Clock) Option {
	return func(l *Locker) { l.clock = c }
}

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(l *Locker) { l.log = log }
}

// WithRetryInterval sets the pause between acquisition attempts.
func WithRetryInterval(d time.Duration) Option {
	return func(l *Locker) { l.retryInterval = d }
}

// Locker acquires and releases advisory locks on a Store.
type Locker struct {
	store         Store
	clock         clock.Clock
	log           *logger.Logger
	retryInterval time.Duration
}

// New creates a Locker on the given store.
func New(store Store, opts ...Option) *Locker {
	l := &Locker{
		store:         store,
		clock:         clock.System(),
		log:           logger.Nop(),
		retryInterval: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.log = l.log.WithComponent("dlock")
	return l
}

// Acquire takes the lock for key, retrying until the context deadline.
// When the deadline passes without success it returns an
// AcquireTimeoutError; transient store unavailability is treated the
// same way rather than surfaced mid-retry. Explicit caller cancellation
// is not a timeout and returns context.Canceled.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Handle, error) {
	owner := uuid.NewString()

	var lastErr error
	for {
		ok, err := l.store.SetIfAbsent(ctx, key, owner, ttl)
		if err != nil {
			if ctx.Err() != nil {
				return nil, l.acquireErr(ctx, key)
			}
			lastErr = err
			l.log.Debug("lock store error, retrying", logger.Fields(
				logger.FieldKey, key,
				logger.FieldError, err.Error(),
			))
		} else if ok {
			l.log.Debug("lock acquired", logger.Fields(
				logger.FieldKey, key,
				logger.FieldOwner, owner,
				logger.FieldTTL, ttl.Milliseconds(),
			))
			return &Handle{key: key, owner: owner, ttl: ttl}, nil
		}

		if err := l.clock.Sleep(ctx, l.retryInterval); err != nil {
			if lastErr != nil {
				l.log.Warn("lock acquisition timed out after store errors", logger.Fields(
					logger.FieldKey, key,
					logger.FieldError, lastErr.Error(),
				))
			}
			return nil, l.acquireErr(ctx, key)
		}
	}
}

// acquireErr maps the context's end state to the right failure: a
// cancelled caller gets context.Canceled, a passed deadline gets an
// AcquireTimeoutError.
func (l *Locker) acquireErr(ctx context.Context, key string) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	return &AcquireTimeoutError{Key: key}
}

// TryAcquire attempts the lock exactly once.
func (l *Locker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (*Handle, bool, error) {
	owner := uuid.NewString()

	ok, err := l.store.SetIfAbsent(ctx, key, owner, ttl)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return &Handle{key: key, owner: owner, ttl: ttl}, true, nil
}

// Release gives up the lock. Lost ownership (TTL expiry followed by
// reclamation) is not an error: the lock is gone either way, and the
// compare-and-delete guarantees another owner's lock is never touched.
func (l *Locker) Release(ctx context.Context, h *Handle) error {
	ok, err := l.store.CompareAndDelete(ctx, h.key, h.owner)
	if err != nil {
		return err
	}
	if !ok {
		l.log.Debug("release of reclaimed lock ignored", logger.Fields(
			logger.FieldKey, h.key,
			logger.FieldOwner, h.owner,
		))
	}
	return nil
}

// Extend resets the lock's TTL for a long-running critical section.
// Returns ErrNotHeld when ownership was lost.
func (l *Locker) Extend(ctx context.Context, h *Handle, ttl time.Duration) error {
	ok, err := l.store.CompareAndExtend(ctx, h.key, h.owner, ttl)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotHeld
	}
	h.ttl = ttl
	return nil
}

// WithLock runs fn while holding the lock for key, releasing it on
// every exit path. Release uses a fresh short-deadline context so a
// canceled caller context still lets the lock go.
func (l *Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	h, err := l.Acquire(ctx, key, ttl)
	if err != nil {
		return err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.Release(releaseCtx, h); err != nil {
			l.log.Warn("lock release failed", logger.Fields(
				logger.FieldKey, key,
				logger.FieldError, err.Error(),
			))
		}
	}()

	return fn(ctx)
}

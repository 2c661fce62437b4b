package dlock

import (
	"context"
	"time"
)

// Store is the minimal atomic key-value surface a lock backend must
// provide. All three operations are atomic with respect to each other.
type Store interface {
	// SetIfAbsent stores value under key with the given TTL only if the
	// key does not exist. It reports whether the value was stored.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// CompareAndDelete deletes key only if its current value equals
	// expected. It reports whether the key was deleted.
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)

	// CompareAndExtend resets the TTL of key only if its current value
	// equals expected. It reports whether the TTL was updated.
	CompareAndExtend(ctx context.Context, key, expected string, ttl time.Duration) (bool, error)
}

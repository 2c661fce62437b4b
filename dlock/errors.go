package dlock

import (
	"errors"
	"fmt"
)

// ErrNotHeld is returned by Extend when the lock is no longer owned by
// the caller, typically because the TTL expired and another owner
// reclaimed the key.
var ErrNotHeld = errors.New("dlock: lock not held")

// AcquireTimeoutError is returned when a lock could not be acquired
// before the caller's deadline.
type AcquireTimeoutError struct {
	Key string
}

func (e *AcquireTimeoutError) Error() string {
	return fmt.Sprintf("dlock: acquisition of %q timed out", e.Key)
}

// IsAcquireTimeout reports whether err is a lock acquisition timeout.
func IsAcquireTimeout(err error) bool {
	var e *AcquireTimeoutError
	return errors.As(err, &e)
}

package clock

import (
	"context"
	"sync"
	"time"
)

// Fake is a manually advanced clock for tests.
// Time only moves when Advance or Set is called. Sleepers are woken
// once the fake time passes their deadline.
type Fake struct {
	mu       sync.Mutex
	now      time.Time
	sleepers []*sleeper
}

type sleeper struct {
	deadline time.Time
	done     chan struct{}
}

// NewFake creates a fake clock starting at the given time.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the current fake time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Since returns the fake time elapsed since t.
func (f *Fake) Since(t time.Time) time.Duration {
	return f.Now().Sub(t)
}

// Advance moves the clock forward by d and wakes any sleeper whose
// deadline has passed.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.wakeLocked()
	f.mu.Unlock()
}

// Set moves the clock to t. Moving backwards is allowed; sleepers are
// only woken by forward movement past their deadline.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.wakeLocked()
	f.mu.Unlock()
}

// Sleep blocks until the fake clock advances past d or ctx is cancelled.
func (f *Fake) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	f.mu.Lock()
	s := &sleeper{deadline: f.now.Add(d), done: make(chan struct{})}
	f.sleepers = append(f.sleepers, s)
	f.mu.Unlock()

	select {
	case <-ctx.Done():
		f.mu.Lock()
		f.removeLocked(s)
		f.mu.Unlock()
		return ctx.Err()
	case <-s.done:
		return nil
	}
}

// removeLocked drops a cancelled sleeper so Sleepers reflects only
// goroutines still parked. A sleeper already woken by Advance is gone
// from the list and the scan finds nothing.
func (f *Fake) removeLocked(target *sleeper) {
	for i, s := range f.sleepers {
		if s == target {
			f.sleepers = append(f.sleepers[:i], f.sleepers[i+1:]...)
			return
		}
	}
}

// Sleepers returns the number of goroutines currently blocked in Sleep.
// Useful for tests that need to advance the clock only after a sleeper
// has parked.
func (f *Fake) Sleepers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sleepers)
}

func (f *Fake) wakeLocked() {
	remaining := f.sleepers[:0]
	for _, s := range f.sleepers {
		if !s.deadline.After(f.now) {
			close(s.done)
		} else {
			remaining = append(remaining, s)
		}
	}
	f.sleepers = remaining
}

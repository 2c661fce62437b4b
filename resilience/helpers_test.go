package resilience

import (
	"testing"
	"time"

	"github.com/kbukum/guardkit/clock"
)

// waitForSleepers blocks until n goroutines are parked in fc.Sleep, so a
// test can advance the fake clock only once the code under test is
// actually waiting.
func waitForSleepers(t *testing.T, fc *clock.Fake, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for fc.Sleepers() < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d sleepers", n)
		}
		time.Sleep(time.Millisecond)
	}
}

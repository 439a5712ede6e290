package gateway

import (
	"context"
	"time"
)

// Backoff is a linear reconnect policy: Base, then Base+Step, Base+2*Step...
// The attempt counter is uncapped and only resets once a session opens.
type Backoff struct {
	Base time.Duration
	Step time.Duration
}

// DefaultBackoff waits 4s plus 2s per consecutive attempt
var DefaultBackoff = Backoff{Base: 4 * time.Second, Step: 2 * time.Second}

// Delay is the wait before retrying after the given zero-based attempt
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return b.Base + time.Duration(attempt)*b.Step
}

// sleep is the backoff wait, swapped out by tests
var sleep = sleepTimer

// sleepTimer waits d or until ctx is done
func sleepTimer(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

package gateway

import (
	"context"
	"time"
)

// SetSleep replaces the backoff wait. Call restore once every session built
// after it is closed.
func SetSleep(f func(context.Context, time.Duration) error) (restore func()) {
	prev := sleep
	sleep = f
	return func() { sleep = prev }
}

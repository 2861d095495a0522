package ratelimit

import (
	"context"
	"time"
)

// Sleeper suspends the calling flow of control for a duration.
// Implementations must return early with ctx.Err() when ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to the Sleeper interface.
type SleeperFunc func(ctx context.Context, d time.Duration) error

// Sleep calls f(ctx, d).
func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}

// DefaultSleeper sleeps on a timer and honors context cancellation.
var DefaultSleeper Sleeper = SleeperFunc(sleepContext)

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryAfterDuration converts a server supplied retry_after (fractional
// seconds) into a wait. Milliseconds are truncated toward zero, so the caller
// may wake slightly early and see another 429.
func RetryAfterDuration(seconds float64) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(int64(seconds*1000)) * time.Millisecond
}

// Package reliability holds the retry policy shared by callers of flaky
// dependencies: deterministic capped backoff plus a small retry loop.
package reliability

import (
	"context"
	"time"
)

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}

// Retry runs fn up to attempts times, sleeping the backoff between tries.
// It stops early when fn succeeds, when retryable says the error is
// permanent, or when ctx is done. The last error is returned.
func Retry(ctx context.Context, attempts int, base, cap time.Duration, retryable func(error) bool, fn func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == attempts-1 || !retryable(err) {
			return err
		}
		select {
		case <-time.After(ExponentialBackoff(attempt, base, cap)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

package util

import (
	"context"
	"time"
)

// Retry runs fn until it returns nil, waiting between failures with a
// doubling delay that starts at baseDelay. After maxAttempts failures it
// gives up and returns the final error. A cancelled ctx aborts the wait
// and returns ctx.Err(); fn itself is never interrupted.
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	delay := baseDelay
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if attempt >= maxAttempts {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}

package adapter

import (
	"context"
	"time"
)

// RetryEmpty calls fn and, while it succeeds with no results, waits delay
// and calls it again, up to attempts more times. Some servers answer
// queries issued right after readiness with nothing; a short retry covers
// that window. Errors are returned immediately.
func RetryEmpty[T any](ctx context.Context, delay time.Duration, attempts int, fn func(context.Context) ([]T, error)) ([]T, error) {
	res, err := fn(ctx)
	for i := 0; err == nil && len(res) == 0 && i < attempts; i++ {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return res, ctx.Err()
		case <-timer.C:
		}
		res, err = fn(ctx)
	}
	return res, err
}

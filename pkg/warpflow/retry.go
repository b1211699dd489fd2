package warpflow

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"
)

// Default retry values for delegated calls.
const (
	DefaultRetryAttempts = 3
	DefaultRetryDelay    = time.Second
)

// RetryPolicy retries an operation a fixed number of times with a fixed
// delay between attempts.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// DefaultRetryPolicy returns three attempts one second apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: DefaultRetryAttempts, Delay: DefaultRetryDelay}
}

// ShouldRetry reports whether err is transient for delegated calls.
// Cancellation and engine shutdown are never retried.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) ||
		errors.Is(err, ErrCanceled) ||
		errors.Is(err, ErrTerminated) ||
		errors.Is(err, ErrEngineClosed) {
		return false
	}
	return true
}

// Retry calls fn until it succeeds, retryable rejects the error, the
// attempts run out or ctx is done. Attempts are paced by a limiter so that
// consecutive calls start at least p.Delay apart. The last error is
// returned. A nil retryable means ShouldRetry.
func Retry(ctx context.Context, p RetryPolicy, retryable func(error) bool, fn func(attempt int) error) error {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	if retryable == nil {
		retryable = ShouldRetry
	}
	limit := rate.Inf
	if p.Delay > 0 {
		limit = rate.Every(p.Delay)
	}
	lim := rate.NewLimiter(limit, 1)

	var err error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if werr := lim.Wait(ctx); werr != nil {
			if err != nil {
				return err
			}
			return ctx.Err()
		}
		if err = fn(attempt); err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
	}
	return err
}

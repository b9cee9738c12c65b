package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryConfig tunes transient-error retries.
type RetryConfig struct {
	MaxAttempts int
	MinWait     time.Duration
	MaxWait     time.Duration
}

// DefaultRetryConfig caps transient retries at three attempts with
// exponential backoff between 1s and 60s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		MinWait:     1 * time.Second,
		MaxWait:     60 * time.Second,
	}
}

// Retry runs op until it succeeds, returns a permanent error, or the
// attempt budget is spent. Wrap an error with Permanent to stop retrying.
func Retry[T any](ctx context.Context, cfg RetryConfig, op func() (T, error)) (T, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.MinWait
	bo.MaxInterval = cfg.MaxWait
	bo.Multiplier = 2

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(cfg.MaxAttempts)),
	)
}

// Permanent marks an error as non-retryable.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// RetryAfter signals the retry loop to wait a server-directed interval,
// used for model cold starts and Retry-After responses.
func RetryAfter(wait time.Duration) error {
	return &backoff.RetryAfterError{Duration: wait}
}

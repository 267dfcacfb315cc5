package store

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// retryPolicy is the store-wide retry discipline: exponential backoff with
// jitter, bounded by maxRetries. Transient vs. permanent classification is
// not attempted — every failure retries except ErrNotFound (a user error)
// and context cancellation.
type retryPolicy struct {
	maxRetries int
	baseDelay  time.Duration
}

// executeWithRetry runs op under the policy and wraps the final failure in
// RetryExhaustedError.
func (p retryPolicy) executeWithRetry(ctx context.Context, name string, op func() error) error {
	var lastErr error
	attempts := p.maxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(p.backoff(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err := op()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrReadOnlyViolation) ||
			errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		lastErr = err
	}
	return &RetryExhaustedError{Op: name, Attempts: attempts, Cause: lastErr}
}

// backoff returns baseDelay·2^(attempt−1) with up to 50% added jitter.
func (p retryPolicy) backoff(attempt int) time.Duration {
	d := p.baseDelay << (attempt - 1)
	jitter := time.Duration(rand.Int64N(int64(d)/2 + 1))
	return d + jitter
}

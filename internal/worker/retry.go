package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/scriptreel/api/internal/client"
)

// errCancelled aborts pipeline work when the job was cancelled through
// the API. It is an outcome, not a failure.
var errCancelled = errors.New("job cancelled")

// retryPolicy controls provider call retries. Only transient failures
// are retried; a fatal classification surfaces immediately.
type retryPolicy struct {
	maxAttempts int
	base        time.Duration
	callTimeout time.Duration
}

// callWithRetry runs op up to maxAttempts times with exponential
// backoff and jitter between attempts. Each attempt gets its own
// timeout. cancelled is consulted between attempts so a cancel request
// lands before the next provider call, not after it. onRetry fires once
// per scheduled retry.
func callWithRetry(ctx context.Context, policy retryPolicy, cancelled func() bool, onRetry func(), op func(ctx context.Context) error) (int, error) {
	attempts := policy.maxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return attempt - 1, errCancelled
		}
		if cancelled != nil && cancelled() {
			return attempt - 1, errCancelled
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if policy.callTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, policy.callTimeout)
		}
		err := op(attemptCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return attempt, nil
		}
		lastErr = err

		// The parent context going away means cancellation or shutdown,
		// never a provider hiccup worth retrying.
		if ctx.Err() != nil {
			return attempt, errCancelled
		}
		if !client.IsTransient(err) {
			return attempt, err
		}
		if attempt == attempts {
			return attempt, fmt.Errorf("giving up after %d attempts: %w", attempt, err)
		}

		if onRetry != nil {
			onRetry()
		}
		delay := backoffDelay(policy.base, attempt)
		select {
		case <-ctx.Done():
			return attempt, errCancelled
		case <-time.After(delay):
		}
	}

	return attempts, lastErr
}

// backoffDelay doubles the base per attempt and adds jitter so
// concurrent scenes do not hammer a recovering provider in lockstep.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	delay := base << (attempt - 1)
	jitter := time.Duration(rand.Int63n(int64(base)))
	return delay + jitter
}

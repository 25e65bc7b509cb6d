package txn

import (
	"context"
	"fmt"
	"time"
)

type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	CapDelay   time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  100 * time.Millisecond,
		CapDelay:   5 * time.Second,
	}
}

// Retry runs fn up to MaxRetries+1 times, sleeping min(base*2^attempt, cap)
// between attempts. Only transient failures are retried; lock conflicts,
// permission errors, and constraint violations surface immediately.
func Retry(ctx context.Context, policy RetryPolicy, fn func(context.Context) error) error {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = 100 * time.Millisecond
	}
	if policy.CapDelay <= 0 {
		policy.CapDelay = 5 * time.Second
	}

	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry canceled: %w", ctx.Err())
			case <-time.After(backoffDelay(policy, attempt-1)):
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !Retryable(lastErr) {
			return lastErr
		}
	}

	return fmt.Errorf("retries exhausted after %d attempts: %w", policy.MaxRetries+1, lastErr)
}

func backoffDelay(policy RetryPolicy, attempt int) time.Duration {
	delay := policy.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= policy.CapDelay {
			return policy.CapDelay
		}
	}
	if delay > policy.CapDelay {
		return policy.CapDelay
	}
	return delay
}

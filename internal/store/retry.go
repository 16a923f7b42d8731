package store

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy bounds how often a conflicted unit of work is re-run.
type RetryPolicy struct {
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 8, InitialBackoff: 10 * time.Millisecond, MaxBackoff: 200 * time.Millisecond}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = time.Millisecond
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	return p
}

// Retry runs op until it succeeds, fails with an error retryable rejects, or
// the attempt budget runs out. Exhausting the budget on a retryable error
// yields ErrTransientStore wrapping the last failure.
func Retry(ctx context.Context, policy RetryPolicy, retryable func(error) bool, op func() error) error {
	policy = policy.normalized()
	delay := policy.InitialBackoff
	var lastErr error
	for attempt := 0; attempt < policy.Attempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
		if attempt == policy.Attempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrTransientStore, ctx.Err())
		}
		if next := delay * 2; next <= policy.MaxBackoff {
			delay = next
		} else {
			delay = policy.MaxBackoff
		}
	}
	return fmt.Errorf("%w: %w", ErrTransientStore, lastErr)
}

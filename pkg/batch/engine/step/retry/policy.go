// Package retry provides the fixed-interval retry policy used for media
// downloads and a small executor that applies it.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/tigerroll/wpmigrate/pkg/batch/support/util/exception"
)

// RetryPolicy decides whether a failed attempt is retried and how long to wait.
type RetryPolicy interface {
	// ShouldRetry reports whether err is retryable.
	ShouldRetry(err error) bool
	// GetBackoffInterval returns the wait before the attempt following attempt (1-based).
	GetBackoffInterval(attempt int) time.Duration
	// GetMaxAttempts returns the total number of attempts, including the first.
	GetMaxAttempts() int
}

// FixedBackoffPolicy retries retryable errors a fixed number of times with a
// constant pause between attempts.
type FixedBackoffPolicy struct {
	maxAttempts         int
	interval            time.Duration
	retryableExceptions []string
}

// NewFixedBackoffPolicy creates a FixedBackoffPolicy. maxAttempts below 1 is
// treated as 1. retryableExceptions lists registered error type names that
// are retried in addition to errors flagged retryable.
func NewFixedBackoffPolicy(maxAttempts int, interval time.Duration, retryableExceptions ...string) *FixedBackoffPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &FixedBackoffPolicy{
		maxAttempts:         maxAttempts,
		interval:            interval,
		retryableExceptions: retryableExceptions,
	}
}

// GetMaxAttempts implements RetryPolicy.
func (p *FixedBackoffPolicy) GetMaxAttempts() int {
	return p.maxAttempts
}

// GetBackoffInterval implements RetryPolicy. The interval is the same for every attempt.
func (p *FixedBackoffPolicy) GetBackoffInterval(int) time.Duration {
	return p.interval
}

// ShouldRetry implements RetryPolicy.
func (p *FixedBackoffPolicy) ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var be *exception.BatchError
	if errors.As(err, &be) && be.IsRetryable() {
		return true
	}
	for _, typeName := range p.retryableExceptions {
		if exception.IsErrorOfType(err, typeName) {
			return true
		}
	}
	return false
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// ContextSleep is the default Sleeper.
func ContextSleep(ctx context.Context, d time.Duration) error {
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

// Do runs fn until it succeeds, returns a non-retryable error, or the policy
// runs out of attempts. The error of the last attempt is returned. onRetry,
// when non-nil, is called before each pause.
func Do(ctx context.Context, policy RetryPolicy, sleep Sleeper, fn func(attempt int) error, onRetry func(attempt int, err error)) error {
	if sleep == nil {
		sleep = ContextSleep
	}
	var lastErr error
	for attempt := 1; attempt <= policy.GetMaxAttempts(); attempt++ {
		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		if attempt == policy.GetMaxAttempts() || !policy.ShouldRetry(lastErr) {
			break
		}
		if onRetry != nil {
			onRetry(attempt, lastErr)
		}
		if err := sleep(ctx, policy.GetBackoffInterval(attempt)); err != nil {
			return errors.Join(lastErr, err)
		}
	}
	return lastErr
}

var _ RetryPolicy = (*FixedBackoffPolicy)(nil)

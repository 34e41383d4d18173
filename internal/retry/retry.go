// Package retry runs a pipeline stage with a bounded number of attempts and a
// linear pause between them.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted is wrapped into the error returned when every attempt failed.
var ErrExhausted = errors.New("attempts exhausted")

// Policy configures Do. Attempt k (k >= 1, zero-based) is preceded by a pause
// of RetryTime*k; nothing is slept after the last attempt.
type Policy struct {
	MaxAttempts int
	RetryTime   time.Duration
	// ShouldRetry, when set, stops retrying on errors it rejects.
	ShouldRetry func(error) bool
	// Sleep replaces the context-aware timer; tests use it to record pauses.
	Sleep func(context.Context, time.Duration) error
	// OnRetry is called before each pause with the failed attempt's error.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Result reports how many attempts ran.
type Result struct {
	Attempts int
}

// Func is one attempt. attempt is zero-based.
type Func func(ctx context.Context, attempt int) error

// Do runs fn until it succeeds or the policy gives up. When all attempts
// fail the returned error wraps both ErrExhausted and the last failure.
func Do(ctx context.Context, policy Policy, fn Func) (Result, error) {
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	sleep := policy.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := policy.RetryTime * time.Duration(attempt)
			if policy.OnRetry != nil {
				policy.OnRetry(attempt, delay, lastErr)
			}
			if err := sleep(ctx, delay); err != nil {
				return Result{Attempts: attempt}, err
			}
		}
		if err := ctx.Err(); err != nil {
			return Result{Attempts: attempt}, err
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return Result{Attempts: attempt + 1}, nil
		}
		if policy.ShouldRetry != nil && !policy.ShouldRetry(lastErr) {
			return Result{Attempts: attempt + 1}, lastErr
		}
	}
	return Result{Attempts: maxAttempts}, fmt.Errorf("%w after %d attempt(s): %w", ErrExhausted, maxAttempts, lastErr)
}

// Sleep pauses for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
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

// Package retry provides the bounded linear-backoff helper shared by the
// task client and the orchestrator. Every retry loop in the program runs
// through Policy so attempt counting and backoff shape stay consistent.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy describes a bounded retry schedule with linear backoff.
type Policy struct {
	// MaxAttempts is the total number of tries including the first one.
	// Values below 1 are treated as 1.
	MaxAttempts int
	// BaseDelay is the wait after the first failed attempt; the wait grows
	// linearly with the attempt number.
	BaseDelay time.Duration
	// MaxDelay caps the wait between attempts. Zero means no cap.
	MaxDelay time.Duration
}

// Backoff returns the wait before the attempt following the given zero-based
// failed attempt: BaseDelay*(attempt+1), capped at MaxDelay.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := p.BaseDelay * time.Duration(attempt+1)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Do runs op up to MaxAttempts times, sleeping Backoff between attempts.
// retryable filters which errors deserve another try; nil retries every
// error. Context cancellation and deadline errors are never retried. When
// all attempts fail the last error is returned wrapped with the attempt
// count, so callers can still match it with errors.Is and errors.As.
func (p Policy) Do(ctx context.Context, op func() error, retryable func(error) bool) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(p.Backoff(attempt - 1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		if err = op(); err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if retryable != nil && !retryable(err) {
			return err
		}
	}
	return fmt.Errorf("all %d attempts failed: %w", attempts, err)
}

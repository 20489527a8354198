package utils

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// ErrPermanent marks an error that must not be retried. Wrap it with
// Permanent and RetryConfig.Do returns immediately.
var ErrPermanent = errors.New("permanent failure")

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() []error {
	return []error{p.err, ErrPermanent}
}

// Permanent wraps err so that the retry loop stops on it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// RetryConfig holds the parameters for the retry strategy.
//
// The pause before attempt n+1 is a random duration in [MinDelay, MaxDelay]
// multiplied by n.
type RetryConfig struct {
	MaxAttempts int
	MinDelay    time.Duration
	MaxDelay    time.Duration
	Logger      *Logger

	// Sleep defaults to time.Sleep.
	Sleep func(time.Duration)
}

// Do executes fn until it succeeds, returns a permanent error, the context is
// done, or MaxAttempts is exhausted.
func (r *RetryConfig) Do(ctx context.Context, operationName string, fn func() error) error {
	attempts := r.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := r.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrPermanent) {
			return fmt.Errorf("%s failed: %w", operationName, lastErr)
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s aborted: %w", operationName, err)
		}

		if attempt < attempts {
			delay := r.delay(attempt)
			if r.Logger != nil {
				r.Logger.Warn("[retry] %s failed (attempt %d/%d): %v, retrying in %.1fs",
					operationName, attempt, attempts, lastErr, delay.Seconds())
			}
			sleep(delay)
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, attempts, lastErr)
}

func (r *RetryConfig) delay(attempt int) time.Duration {
	base := r.MinDelay
	if r.MaxDelay > r.MinDelay {
		base += time.Duration(rand.Int63n(int64(r.MaxDelay - r.MinDelay)))
	}
	return base * time.Duration(attempt)
}

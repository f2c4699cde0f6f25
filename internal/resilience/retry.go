package resilience

import (
	"context"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy configures the exponential backoff retry combinator.
type RetryPolicy struct {
	// MaxAttempts bounds total attempts, first call included (default 3).
	MaxAttempts int
	// InitialInterval is the first backoff delay (default 500ms).
	InitialInterval time.Duration
	// MaxInterval caps the delay between attempts (default 15s).
	MaxInterval time.Duration
	// Multiplier grows the delay between attempts (default 2.0).
	Multiplier float64
	// Retriable decides whether an error is worth another attempt.
	// Defaults to IsRetriable.
	Retriable func(error) bool
}

// DefaultRetryPolicy returns the policy used for collaborator calls unless
// configured otherwise.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     15 * time.Second,
		Multiplier:      2.0,
	}
}

// WithRetry invokes fn with exponential backoff until it succeeds, the
// policy's attempts are exhausted, the error is non-retriable, or ctx is
// done. Every collaborator call site shares this one combinator so backoff
// behavior stays consistent across the engine.
func WithRetry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 3
	}
	if policy.InitialInterval <= 0 {
		policy.InitialInterval = 500 * time.Millisecond
	}
	if policy.MaxInterval <= 0 {
		policy.MaxInterval = 15 * time.Second
	}
	if policy.Multiplier <= 0 {
		policy.Multiplier = 2.0
	}
	retriable := policy.Retriable
	if retriable == nil {
		retriable = IsRetriable
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = policy.InitialInterval
	expo.MaxInterval = policy.MaxInterval
	expo.Multiplier = policy.Multiplier
	expo.MaxElapsedTime = 0 // Attempts bound the loop, not elapsed time.

	attempt := 0
	operation := func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if !retriable(err) {
			return backoff.Permanent(err)
		}
		if attempt >= policy.MaxAttempts {
			return backoff.Permanent(err)
		}
		log.Printf("[retry] attempt %d/%d failed, backing off: %v", attempt, policy.MaxAttempts, err)
		return err
	}

	return backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(expo, uint64(policy.MaxAttempts-1)), ctx))
}

package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/shellflow/shellflow/pkg/models"
)

// RetryConfig bounds the retry loop around breaker-guarded borrows. This is
// independent of an atomic script's own retry count, which retries command
// execution without backoff.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryConfig returns the bounds used when a field is zero.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	defaults := DefaultRetryConfig()

	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaults.MaxAttempts
	}

	if c.BaseDelay <= 0 {
		c.BaseDelay = defaults.BaseDelay
	}

	if c.MaxDelay <= 0 {
		c.MaxDelay = defaults.MaxDelay
	}

	return c
}

// backoffDelay computes the capped exponential delay before attempt n
// (zero-based), with up to 10% jitter.
func (c RetryConfig) backoffDelay(attempt int) time.Duration {
	delay := time.Duration(float64(c.BaseDelay) * math.Pow(2, float64(attempt-1)))
	if delay > c.MaxDelay || delay <= 0 {
		delay = c.MaxDelay
	}

	jitter := time.Duration(rand.Float64() * float64(delay) * 0.1) //nolint:gosec // jitter, not crypto

	return delay + jitter
}

// withRetry runs f up to MaxAttempts times, backing off between attempts.
// Only transient failures are retried: validation and security failures, and
// an open breaker, surface immediately.
func withRetry(ctx context.Context, config RetryConfig, f func() error) error {
	config = config.withDefaults()

	var lastErr error

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(config.backoffDelay(attempt)):
			}
		}

		lastErr = f()
		if lastErr == nil {
			return nil
		}

		if !models.IsRetryable(lastErr) {
			return lastErr
		}
	}

	return lastErr
}

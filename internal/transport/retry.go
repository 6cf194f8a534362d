package transport

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// RetryConfig configures RetryWithBackoff. Defaults per §4.1: at most 5
// attempts, exponential backoff 1s·2^k with +/-25% jitter.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// DefaultRetryConfig matches the ingestion contract's stated defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     4,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     60 * time.Second,
		Multiplier:     2.0,
	}
}

// ExponentialBackoff computes the wait before attempt, capped at MaxBackoff
// and jittered by +/-25%.
func ExponentialBackoff(attempt int, cfg RetryConfig) time.Duration {
	backoff := float64(cfg.InitialBackoff) * math.Pow(cfg.Multiplier, float64(attempt))
	if backoff > float64(cfg.MaxBackoff) {
		backoff = float64(cfg.MaxBackoff)
	}

	jitterRange := 0.25 * backoff
	jitter := (rand.Float64() * 2 * jitterRange) - jitterRange
	result := backoff + jitter

	if result > float64(cfg.MaxBackoff) {
		result = float64(cfg.MaxBackoff)
	}
	if result < 0 {
		result = 0
	}
	return time.Duration(result)
}

// ShouldRetry reports whether err is a retryable transport Error: 5xx,
// timeouts, and 429 are retried; permission errors and other 4xx are not.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	var terr *Error
	if errors.As(err, &terr) {
		return terr.Retryable()
	}
	return false
}

// Operation is a unit of work retried by RetryWithBackoff.
type Operation func(ctx context.Context) error

// RetryWithBackoff runs operation until it succeeds, exhausts MaxRetries, or
// hits a non-retryable error. Honors ctx cancellation between attempts, so a
// run's wall-clock deadline aborts outstanding retries cooperatively.
func RetryWithBackoff(ctx context.Context, op Operation, cfg RetryConfig) error {
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !ShouldRetry(err) {
			return err
		}
		if attempt >= cfg.MaxRetries {
			return err
		}

		wait := ExponentialBackoff(attempt, cfg)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return lastErr
}

package pipeline

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"go-tower-pipeline/internal/logging"
	"go-tower-pipeline/internal/model"
)

// Default retry configurations for the stages that touch the outside world
var DefaultRetryConfigs = map[string]model.RetryConfig{
	StageIngest: {
		MaxAttempts:       3,
		InitialDelay:      1 * time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	},
	StageExport: {
		MaxAttempts:       3,
		InitialDelay:      500 * time.Millisecond,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	},
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// isRetryableError checks if an error is retryable. Unknown errors are.
func isRetryableError(err error) bool {
	var p *permanentError
	if errors.As(err, &p) {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// withRetry runs fn until it succeeds, returns a non-retryable error, or the
// attempts in cfg are used up. The last error is returned.
func withRetry(ctx context.Context, cfg model.RetryConfig, operation string, fn func(context.Context) error) error {
	log := logging.FromContext(ctx)
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				log.Info(ctx, "retry succeeded", logging.String("operation", operation), logging.Int("attempts", attempt))
			}
			return nil
		}

		if !isRetryableError(err) || attempt >= attempts {
			var p *permanentError
			if errors.As(err, &p) {
				return p.err
			}
			return err
		}

		delay := nextRetryDelay(cfg, attempt)
		log.Warn(ctx, "operation failed, retrying",
			logging.String("operation", operation),
			logging.Int("attempt", attempt),
			logging.Int("max_attempts", attempts),
			logging.Millis("delay_ms", delay.Milliseconds()),
			logging.Err(err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// nextRetryDelay calculates the wait after the given failed attempt
func nextRetryDelay(cfg model.RetryConfig, attempt int) time.Duration {
	multiplier := cfg.BackoffMultiplier
	if multiplier < 1 {
		multiplier = 1
	}

	// Calculate delay with exponential backoff
	delay := time.Duration(float64(cfg.InitialDelay) * math.Pow(multiplier, float64(attempt-1)))

	// Cap at max delay
	if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}

	// Up to 10% either way
	if cfg.Jitter {
		delay += time.Duration(float64(delay) * 0.2 * (rand.Float64() - 0.5))
	}
	return delay
}

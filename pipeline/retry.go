package pipeline

import (
	"context"
	"math"
	"time"

	"github.com/repr0bated/substrate/xerrors"
)

// RetryConfig configures exponential-backoff retry around one step
// invocation. Defaults match the teacher's resilience.DefaultRetryConfig.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterEnabled bool
}

// DefaultRetryConfig mirrors resilience.DefaultRetryConfig exactly.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}
}

// retry runs fn up to config.MaxAttempts times, sleeping with
// exponential backoff (plus optional jitter) between attempts, and
// aborting early if ctx is cancelled or fn's error is not retryable
// under xerrors.IsRetryable.
func retry(ctx context.Context, config RetryConfig, fn func() error) error {
	var lastErr error
	delay := config.InitialDelay

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !xerrors.IsRetryable(err) {
			return err
		}
		if attempt == config.MaxAttempts {
			break
		}

		if attempt > 1 {
			delay = time.Duration(float64(delay) * config.BackoffFactor)
			if delay > config.MaxDelay {
				delay = config.MaxDelay
			}
		}

		if config.JitterEnabled {
			jitter := time.Duration(float64(delay) * 0.1 * math.Sin(float64(attempt)))
			delay += jitter
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return xerrors.NewFrameworkError("pipeline.retry", "execution", "", lastErr)
}

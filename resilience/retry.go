package resilience

import (
	"context"
	"time"

	"github.com/agentuity/go-resilience/logger"
)

// RetryConfig holds configuration for retry behavior
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt, so the
	// total number of invocations is MaxRetries+1.
	MaxRetries int
	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration
	// MaxBackoff caps the exponential delay (before jitter).
	MaxBackoff time.Duration
	// BackoffMultiplier scales the delay after each attempt.
	BackoffMultiplier float64
	// Jitter adds up to 10% of random extra delay to spread out retries.
	Jitter bool
	// Retryable decides whether an error is worth retrying. Defaults to
	// DefaultRetryable.
	Retryable func(error) bool
}

// DefaultRetryConfig returns a sensible default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
		Retryable:         DefaultRetryable,
	}
}

func (c RetryConfig) normalize() RetryConfig {
	def := DefaultRetryConfig()
	if c.MaxRetries < 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = def.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = def.MaxBackoff
	}
	if c.BackoffMultiplier <= 0 {
		c.BackoffMultiplier = def.BackoffMultiplier
	}
	if c.Retryable == nil {
		c.Retryable = DefaultRetryable
	}
	return c
}

// RetryableFunc is a function that can be retried
type RetryableFunc func(ctx context.Context) error

// Retry executes fn with exponential backoff until it succeeds, the error is
// classified as not retryable, or MaxRetries is exhausted. The error
// returned is the last error fn produced, never a synthetic wrapper, so
// errors.Is and errors.As keep working for callers.
//
// Retry is the bare loop; the Protector adds breaker recording, dead-letter
// publishing and escalation on top of it.
func Retry(ctx context.Context, config RetryConfig, fn RetryableFunc) error {
	_, err := retryLoop(ctx, SystemClock, nil, "", config, fn)
	return err
}

// retryLoop runs the attempt loop and reports how many times fn was
// invoked. A nil logger silences the loop; an empty operation skips metrics.
func retryLoop(ctx context.Context, clock Clock, log logger.Logger, operation string, config RetryConfig, fn RetryableFunc) (int, error) {
	config = config.normalize()
	var lastErr error
	var invocations int
	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return invocations, err
		}
		invocations++
		err := fn(ctx)
		if err == nil {
			if operation != "" {
				metricRetryAttempts.WithLabelValues(operation, "success").Inc()
			}
			if attempt > 0 && log != nil {
				log.Info("operation %s recovered on attempt %d", operation, invocations)
			}
			return invocations, nil
		}
		lastErr = err
		if operation != "" {
			metricRetryAttempts.WithLabelValues(operation, "failure").Inc()
		}
		// exhaustion is checked before classification so the last failure
		// is never misreported as non-retryable
		if attempt == config.MaxRetries {
			break
		}
		if !config.Retryable(err) {
			if log != nil {
				log.Debug("operation %s failed with non-retryable error: %s", operation, err)
			}
			break
		}
		backoff := calculateBackoff(attempt, config)
		if operation != "" {
			metricRetryBackoff.WithLabelValues(operation).Observe(backoff.Seconds())
		}
		if log != nil {
			log.Warn("operation %s attempt %d failed, retrying in %s: %s", operation, invocations, backoff, err)
		}
		timer := clock.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return invocations, ctx.Err()
		case <-timer.C():
		}
	}
	if log != nil {
		log.Error("operation %s failed after %d attempts: %s", operation, invocations, lastErr)
	}
	return invocations, lastErr
}

package resilience

import (
	"math"
	"math/rand"
	"time"
)

// calculateBackoff returns the delay before retry attempt n (0-based):
// InitialBackoff * Multiplier^n, capped at MaxBackoff. When jitter is
// enabled, up to 10% of the capped value is added on top. Jitter only ever
// lengthens the delay.
func calculateBackoff(attempt int, config RetryConfig) time.Duration {
	backoff := float64(config.InitialBackoff) * math.Pow(config.BackoffMultiplier, float64(attempt))
	if backoff > float64(config.MaxBackoff) {
		backoff = float64(config.MaxBackoff)
	}
	if config.Jitter {
		backoff += rand.Float64() * 0.1 * backoff
	}
	return time.Duration(backoff)
}

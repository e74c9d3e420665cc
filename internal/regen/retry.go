package regen

import (
	"errors"
	"math"
	"time"

	"github.com/kamilpajak/testmend/internal/llm"
)

// RetryConfig configures the transport retry loop.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first call.
	MaxRetries int
	// BaseDelay is the first backoff step.
	BaseDelay time.Duration
	// MaxDelay caps computed backoff. Service hints are not capped.
	MaxDelay time.Duration
	// JitterFactor is the maximum jitter as a fraction of backoff (0-1).
	JitterFactor float64
}

// DefaultRetryConfig returns 3 retries from a 2s base with ±25% jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		BaseDelay:    2 * time.Second,
		MaxDelay:     2 * time.Minute,
		JitterFactor: 0.25,
	}
}

// delay returns the wait before retry number attempt (0-based) after err.
// random must return values in [0,1).
func (c RetryConfig) delay(attempt int, err error, random func() float64) time.Duration {
	var rl *llm.RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		return rl.RetryAfter
	}

	base := float64(c.BaseDelay) * math.Pow(2, float64(attempt))
	if c.MaxDelay > 0 && base > float64(c.MaxDelay) {
		base = float64(c.MaxDelay)
	}
	if c.JitterFactor > 0 {
		base *= 1 + (random()*2-1)*c.JitterFactor
	}
	return time.Duration(base)
}

package utils

import (
	"math"
	"time"
)

// BackoffStrategy represents a retry backoff strategy
type BackoffStrategy interface {
	// NextDelay returns the delay before retry number attempt (0-indexed)
	NextDelay(attempt int) time.Duration
}

// ConstantBackoff waits the same delay before every retry
type ConstantBackoff struct {
	Delay time.Duration
}

// NewConstantBackoff creates a new constant backoff strategy
func NewConstantBackoff(delay time.Duration) *ConstantBackoff {
	return &ConstantBackoff{Delay: delay}
}

// NextDelay returns the constant delay
func (cb *ConstantBackoff) NextDelay(int) time.Duration {
	return cb.Delay
}

// ExponentialBackoff implements BaseDelay * Multiplier^attempt, capped at MaxDelay
type ExponentialBackoff struct {
	BaseDelay  time.Duration
	Multiplier float64
	MaxDelay   time.Duration
	Jitter     bool
	// Rand draws the jitter; set it to replay delays
	Rand *RandSource
}

// NewExponentialBackoff creates a new exponential backoff strategy
func NewExponentialBackoff(baseDelay, maxDelay time.Duration, multiplier float64, jitter bool) *ExponentialBackoff {
	if multiplier <= 0 {
		multiplier = 2.0
	}
	return &ExponentialBackoff{
		BaseDelay:  baseDelay,
		Multiplier: multiplier,
		MaxDelay:   maxDelay,
		Jitter:     jitter,
		Rand:       NewRandSource(0),
	}
}

// NextDelay returns the exponentially increasing delay
func (eb *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	delay := float64(eb.BaseDelay) * math.Pow(eb.Multiplier, float64(attempt))

	if eb.MaxDelay > 0 && delay > float64(eb.MaxDelay) {
		delay = float64(eb.MaxDelay)
	}

	if eb.Jitter && eb.Rand != nil {
		// 0.5x .. 1.5x
		delay *= eb.Rand.UniformFloat64(0.5, 1.5)
	}

	return time.Duration(delay)
}

// BackoffFromConfig creates a backoff strategy from config parameters.
// factorSeconds <= 0 disables waiting between retries.
func BackoffFromConfig(kind string, factorSeconds float64, maxDelay time.Duration) BackoffStrategy {
	base := time.Duration(factorSeconds * float64(time.Second))
	if base <= 0 {
		return NewConstantBackoff(0)
	}
	if maxDelay == 0 {
		maxDelay = 2 * time.Minute
	}

	switch kind {
	case "constant":
		return NewConstantBackoff(base)
	case "jitter":
		return NewExponentialBackoff(base, maxDelay, 2.0, true)
	default:
		return NewExponentialBackoff(base, maxDelay, 2.0, false)
	}
}

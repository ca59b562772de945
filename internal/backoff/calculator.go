package backoff

import (
	"time"
)

// Calculator wraps a Strategy so callers hold a stable handle while the
// strategy stays swappable.
type Calculator struct {
	strategy Strategy
}

// NewCalculator creates a calculator with the given strategy.
func NewCalculator(strategy Strategy) *Calculator {
	return &Calculator{strategy: strategy}
}

// Calculate computes the backoff duration for the given attempt and parameters.
func (c *Calculator) Calculate(attempt int, baseDelay, maxDelay time.Duration, multiplier, jitter float64) time.Duration {
	return c.strategy.Calculate(attempt, baseDelay, maxDelay, multiplier, jitter)
}

// GetExponentialJitterCalculator returns a calculator using exponential
// backoff with uniform jitter, the default for retry scheduling.
func GetExponentialJitterCalculator() *Calculator {
	return NewCalculator(ExponentialJitterStrategy{})
}

// GetDecorrelatedJitterCalculator returns a calculator using AWS-style
// decorrelated jitter.
func GetDecorrelatedJitterCalculator() *Calculator {
	return NewCalculator(DecorrelatedJitterStrategy{})
}

package backoff

import (
	"math/rand"
	"time"
)

// Strategy is a backoff calculation algorithm. attempt is zero-based: the
// delay before the first retry is Calculate(0, ...).
type Strategy interface {
	Calculate(attempt int, baseDelay, maxDelay time.Duration, multiplier, jitter float64) time.Duration
}

// ExponentialJitterStrategy grows the delay geometrically and perturbs it by
// a uniform factor in [1-jitter, 1+jitter] to avoid synchronized retry storms
// across concurrent callers. The result never exceeds maxDelay.
type ExponentialJitterStrategy struct{}

func (ExponentialJitterStrategy) Calculate(attempt int, baseDelay, maxDelay time.Duration, multiplier, jitter float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// Limit the exponent to keep the float math well away from overflow.
	if attempt > 30 {
		attempt = 30
	}

	delay := time.Duration(float64(baseDelay) * pow(multiplier, attempt))
	if delay < 0 || delay > maxDelay {
		delay = maxDelay
	}

	jitter = clampJitter(jitter)
	if jitter > 0 {
		factor := 1 + jitter*(2*rand.Float64()-1)
		delay = time.Duration(float64(delay) * factor)
	}
	if delay < 0 {
		delay = 0
	}
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

// DecorrelatedJitterStrategy implements AWS-style decorrelated jitter:
// random_between(base, min(cap, base * 3^attempt)). It trades the strict
// monotonic envelope of exponential jitter for smoother tail latencies.
type DecorrelatedJitterStrategy struct{}

func (DecorrelatedJitterStrategy) Calculate(attempt int, baseDelay, maxDelay time.Duration, multiplier, jitter float64) time.Duration {
	if attempt <= 0 {
		return baseDelay
	}
	if attempt > 10 {
		attempt = 10
	}

	base := float64(baseDelay)
	upper := base * pow(3.0, attempt)

	maxFloat := float64(maxDelay)
	if upper > maxFloat || upper < 0 {
		upper = maxFloat
	}
	if upper < base {
		upper = base
	}

	delay := time.Duration(base + rand.Float64()*(upper-base))
	if delay < 0 || delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

// clampJitter ensures jitter is within [0, 1].
func clampJitter(jitter float64) float64 {
	if jitter < 0 {
		return 0
	}
	if jitter > 1 {
		return 1
	}
	return jitter
}

func pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}

// Pow exposes the integer exponentiation helper for callers that need the
// same semantics as the strategies.
func Pow(base float64, exponent int) float64 {
	return pow(base, exponent)
}

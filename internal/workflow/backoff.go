package workflow

import (
	"math"
	"time"
)

// BackoffStrategy defines how retry delays grow.
type BackoffStrategy string

const (
	BackoffConstant    BackoffStrategy = "constant"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffExponential BackoffStrategy = "exponential"
)

// BackoffPolicy computes the delay before a retry.
type BackoffPolicy struct {
	Strategy     BackoffStrategy
	InitialDelay time.Duration
	// MaxDelay caps the delay. Zero means no cap.
	MaxDelay   time.Duration
	Multiplier float64
}

// DefaultBackoff waits 2^retry seconds: 2s before the first retry, 4s before
// the second, and so on.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{
		Strategy:     BackoffExponential,
		InitialDelay: time.Second,
		Multiplier:   2,
	}
}

// Delay returns the wait before retry number retry (1-based). The result
// saturates at MaxDelay, or at the largest Duration when there is no cap,
// so it never wraps negative.
func (p BackoffPolicy) Delay(retry int) time.Duration {
	ceiling := time.Duration(math.MaxInt64)
	if p.MaxDelay > 0 {
		ceiling = p.MaxDelay
	}

	var delay float64
	switch p.Strategy {
	case BackoffConstant:
		delay = float64(p.InitialDelay)
	case BackoffLinear:
		delay = float64(p.InitialDelay) * float64(retry)
	default:
		mult := p.Multiplier
		if mult <= 0 {
			mult = 2
		}
		delay = float64(p.InitialDelay) * math.Pow(mult, float64(retry))
	}
	if delay >= float64(ceiling) {
		return ceiling
	}
	return time.Duration(delay)
}

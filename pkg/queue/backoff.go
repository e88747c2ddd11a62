package queue

import (
	"math"
	"math/rand/v2"
	"time"
)

// BackoffPolicy returns how long to wait after the given failed attempt.
// Attempt starts at 1 for the first failure. Implementations must be pure.
type BackoffPolicy func(attempt int) time.Duration

// DefaultBackoffBase is the delay after the first failed attempt.
const DefaultBackoffBase = 2 * time.Second

// ExponentialBackoff grows the delay geometrically: Base * Multiplier^(attempt-1).
// Jitter adds up to Jitter*delay on top, never less, so the computed delay
// stays a lower bound.
type ExponentialBackoff struct {
	Base       time.Duration
	Multiplier float64
	Max        time.Duration
	Jitter     float64
}

// Delay implements BackoffPolicy.
func (e ExponentialBackoff) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	base := e.Base
	if base <= 0 {
		base = DefaultBackoffBase
	}

	multiplier := e.Multiplier
	if multiplier < 1 {
		multiplier = 2
	}

	interval := float64(base) * math.Pow(multiplier, float64(attempt-1))
	if e.Jitter > 0 {
		interval += interval * e.Jitter * rand.Float64()
	}

	if e.Max > 0 && interval > float64(e.Max) {
		return e.Max
	}
	if interval >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}

	return time.Duration(interval)
}

// DefaultBackoff waits 2s, 4s, 8s, ... between attempts.
func DefaultBackoff() BackoffPolicy {
	return ExponentialBackoff{Base: DefaultBackoffBase, Multiplier: 2}.Delay
}

// FixedBackoff always waits d.
func FixedBackoff(d time.Duration) BackoffPolicy {
	return func(attempt int) time.Duration {
		if attempt <= 0 {
			return 0
		}
		return d
	}
}

// Package retry holds retry policies, the interceptor contract consulted before each
// network call, and the loop that drives retries.
package retry

import (
	"math"
	"time"
)

// Policy maps a 1-indexed attempt number to the delay before that attempt.
// Implementations are pure functions of the attempt.
type Policy interface {
	Delay(attempt int) time.Duration
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(attempt int) time.Duration

// Delay calls f.
func (f PolicyFunc) Delay(attempt int) time.Duration { return f(attempt) }

type immediate struct{}

func (immediate) Delay(int) time.Duration { return 0 }

// Immediate retries without waiting.
func Immediate() Policy { return immediate{} }

type constant time.Duration

func (c constant) Delay(int) time.Duration { return time.Duration(c) }

// Constant waits d before every retry.
func Constant(d time.Duration) Policy { return constant(d) }

// ExponentialPolicy grows the delay by Multiplier per attempt, capped at Max.
type ExponentialPolicy struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
}

// Exponential returns an ExponentialPolicy.
func Exponential(initial time.Duration, multiplier float64, max time.Duration) ExponentialPolicy {
	return ExponentialPolicy{Initial: initial, Multiplier: multiplier, Max: max}
}

// Delay returns Initial for attempt 1 and min(Max, Initial*Multiplier^(attempt-1)) after that.
func (p ExponentialPolicy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return min(p.Initial, p.Max)
	}
	d := float64(p.Initial) * math.Pow(p.Multiplier, float64(attempt-1))
	if math.IsNaN(d) || d >= float64(p.Max) {
		return p.Max
	}
	if d < 0 {
		return 0
	}
	return time.Duration(d)
}

// Custom wraps fn as a Policy.
func Custom(fn func(attempt int) time.Duration) Policy { return PolicyFunc(fn) }

// ParsePolicy builds a policy from its configuration name. Unknown names yield Immediate.
func ParsePolicy(name string, initial time.Duration, multiplier float64, max time.Duration) Policy {
	switch name {
	case "constant":
		return Constant(initial)
	case "exponential":
		return Exponential(initial, multiplier, max)
	default:
		return Immediate()
	}
}

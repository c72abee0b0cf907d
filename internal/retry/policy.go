package retry

import (
	"math/rand"
	"time"
)

const jitterFraction = 0.25

// Policy computes the wait before a retry attempt. Attempt numbers start at 1
// for the first retry. Implementations hold no mutable state.
type Policy interface {
	Delay(attempt int) time.Duration
	MaxAttempts() int
}

// Exponential doubles the base delay per attempt up to Max, then applies
// ±25% uniform jitter when Jitter is set.
type Exponential struct {
	Base     time.Duration
	Max      time.Duration
	Attempts int
	Jitter   bool

	// Rand returns a value in [0, 1). Defaults to math/rand.
	Rand func() float64
}

var _ Policy = Exponential{}

func (p Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := p.Base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.Max > 0 && delay >= p.Max {
			break
		}
	}
	if p.Max > 0 && delay > p.Max {
		delay = p.Max
	}

	if p.Jitter {
		random := p.Rand
		if random == nil {
			random = rand.Float64
		}
		factor := 1 + (random()*2-1)*jitterFraction
		delay = time.Duration(float64(delay) * factor)
	}

	if delay < 0 {
		return 0
	}
	return delay
}

func (p Exponential) MaxAttempts() int { return p.Attempts }

// Linear grows the delay by Increment per attempt: Base + Increment*(attempt-1).
// A zero Increment gives a fixed delay.
type Linear struct {
	Base      time.Duration
	Increment time.Duration
	Attempts  int
}

var _ Policy = Linear{}

func (p Linear) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.Base + p.Increment*time.Duration(attempt-1)
	if delay < 0 {
		return 0
	}
	return delay
}

func (p Linear) MaxAttempts() int { return p.Attempts }

// DefaultExternal is used for external service errors.
func DefaultExternal() Exponential {
	return Exponential{
		Base:     time.Second,
		Max:      30 * time.Second,
		Attempts: 3,
		Jitter:   true,
	}
}

// DefaultProcessing is used for local processing errors.
func DefaultProcessing() Linear {
	return Linear{
		Base:      500 * time.Millisecond,
		Increment: 500 * time.Millisecond,
		Attempts:  2,
	}
}

// DefaultUnknown allows a single retry after a fixed short delay.
func DefaultUnknown() Linear {
	return Linear{
		Base:     500 * time.Millisecond,
		Attempts: 2,
	}
}

// RetriesAllowed is the number of retries a policy permits after the first attempt.
func RetriesAllowed(p Policy) int {
	if p == nil || p.MaxAttempts() <= 1 {
		return 0
	}
	return p.MaxAttempts() - 1
}

package provider

import (
	"math/rand/v2"
	"time"
)

type Strategy int

const (
	Linear Strategy = iota
	Exponential
)

// RetryPolicy bounds retries for one kind of retryable failure.
// Jitter is a fraction of the computed delay drawn from [JitterMin, JitterMax].
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Strategy    Strategy
	JitterMin   float64
	JitterMax   float64
}

// Policies maps each retryable kind to its policy
type Policies struct {
	RateLimited RetryPolicy // HTTP 429
	Transient   RetryPolicy // HTTP 5xx, timeouts, transport errors
}

func DefaultPolicies() Policies {
	return Policies{
		RateLimited: RetryPolicy{
			MaxAttempts: 3,
			BaseDelay:   60 * time.Second,
			MaxDelay:    120 * time.Second,
			Strategy:    Linear,
			JitterMin:   0.10,
			JitterMax:   0.25,
		},
		Transient: RetryPolicy{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			MaxDelay:    10 * time.Second,
			Strategy:    Exponential,
			JitterMin:   0,
			JitterMax:   0.10,
		},
	}
}

// Delay is the un-jittered wait after the given failed attempt (1-based)
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	var delay time.Duration
	switch p.Strategy {
	case Exponential:
		shift := attempt - 1
		if shift > 30 {
			shift = 30
		}
		delay = p.BaseDelay * time.Duration(1<<uint(shift))
	default:
		delay = p.BaseDelay * time.Duration(attempt)
	}

	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// Backoff is Delay plus random jitter
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	delay := p.Delay(attempt)
	if p.JitterMax <= 0 || p.JitterMax < p.JitterMin {
		return delay
	}
	fraction := p.JitterMin + rand.Float64()*(p.JitterMax-p.JitterMin)
	return delay + time.Duration(float64(delay)*fraction)
}

// Exhausted reports whether attempt failures of this kind used up the policy
func (p RetryPolicy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}

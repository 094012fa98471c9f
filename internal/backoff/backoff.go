// Package backoff computes the wait schedule between reconnection attempts.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Default schedule parameters.
const (
	DefaultBase   = 1 * time.Second
	DefaultFactor = 1.5
)

// Policy maps an attempt count to a wait duration.
//
// The schedule is Base * Factor^(attempt-1), capped at Max when Max > 0.
// With Jitter == 0 the policy is fully deterministic.
type Policy struct {
	// Base is the delay before the first retry.
	Base time.Duration

	// Factor is the multiplier applied per additional attempt.
	Factor float64

	// Max caps the computed delay. Zero means uncapped.
	Max time.Duration

	// Jitter randomizes the delay by up to the given fraction (0..1)
	// in either direction. Zero disables jitter.
	Jitter float64
}

// Default returns the standard policy: 1s base, 1.5x growth, no cap.
func Default() Policy {
	return Policy{
		Base:   DefaultBase,
		Factor: DefaultFactor,
	}
}

// Delay returns the wait before retry number attempt (1-based).
// Attempt values below 1 are treated as 1.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	base := p.Base
	if base <= 0 {
		base = DefaultBase
	}
	factor := p.Factor
	if factor <= 0 {
		factor = DefaultFactor
	}

	d := float64(base) * math.Pow(factor, float64(attempt-1))
	if p.Max > 0 && d > float64(p.Max) {
		d = float64(p.Max)
	}

	if p.Jitter > 0 {
		// Spread the delay over [d*(1-j), d*(1+j)].
		d += (rand.Float64()*2 - 1) * p.Jitter * d
		if d < 0 {
			d = 0
		}
	}

	return time.Duration(d)
}

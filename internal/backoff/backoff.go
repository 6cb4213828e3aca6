// Package backoff computes poll delays for idle loops.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// ExponentialJitter returns base*2^(attempt-1), capped at max, with +/- 20%
// jitter. Attempts below 1 count as 1.
func ExponentialJitter(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt <= 0 {
		attempt = 1
	}
	mul := math.Pow(2, float64(attempt-1))
	d := time.Duration(math.Min(float64(base)*mul, float64(max)))
	if d <= 0 {
		d = max
	}

	j := time.Duration(float64(d) * 0.2)
	if j <= 0 {
		return d
	}
	return d - j + time.Duration(rand.Int64N(int64(2*j)))
}

// Poller tracks consecutive idle polls for one loop. It is not safe for
// concurrent use.
type Poller struct {
	Base    time.Duration
	Max     time.Duration
	attempt int
}

// Idle records an empty poll and returns how long to wait.
func (p *Poller) Idle() time.Duration {
	p.attempt++
	return ExponentialJitter(p.Base, p.Max, p.attempt)
}

// Reset starts the sequence over after useful work.
func (p *Poller) Reset() {
	p.attempt = 0
}

// Package retry provides the per-stage retry policy with exponential backoff.
package retry

import (
	"math"
	"math/rand"
	"time"
)

// Policy bounds how often a stage reattempts a job and how long it waits
// between attempts. Delays grow exponentially with jitter so retrying jobs
// do not thunder back onto the queue together.
type Policy struct {
	MaxAttempts int           `json:"max_attempts"`
	BaseDelay   time.Duration `json:"base_delay"`
	MaxDelay    time.Duration `json:"max_delay"`
	Multiplier  float64       `json:"multiplier"`
	JitterRatio float64       `json:"jitter_ratio"` // 0.0 to 1.0
}

// DefaultPolicy returns the default stage policy: three attempts with
// backoff from two seconds up to two minutes.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    2 * time.Minute,
		Multiplier:  2.0,
		JitterRatio: 0.1,
	}
}

// NextDelay computes the backoff before the next attempt. attempt is the
// number of attempts already made.
func (p *Policy) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return p.BaseDelay
	}

	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))

	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	jitter := delay * p.JitterRatio * (2*rand.Float64() - 1)
	delay += jitter

	if delay < 0 {
		delay = float64(p.BaseDelay)
	}

	return time.Duration(delay)
}

// Exhausted reports whether the attempt budget is spent. A stage that fails
// with Exhausted true must terminate the job in the same operation.
func (p *Policy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}

// Package backoff computes retry delays for the sync engine.
package backoff

import (
	"math/rand"
	"time"
)

// Policy is capped exponential backoff with random jitter. Jitter spreads
// out clients reconnecting after a shared outage so they do not hammer the
// server in lockstep.
type Policy struct {
	Base        time.Duration
	Max         time.Duration
	Jitter      float64 // fraction of the delay, e.g. 0.2 for +/-20%
	MaxAttempts int
}

// Default mirrors the agent's shipped configuration.
func Default() Policy {
	return Policy{
		Base:        time.Second,
		Max:         time.Minute,
		Jitter:      0.2,
		MaxAttempts: 5,
	}
}

// NextDelay returns the delay before retry number attempts+1.
// delay = min(Max, Base * 2^attempts) * (1 +/- Jitter)
func (p Policy) NextDelay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	d := p.Base
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= p.Max {
			d = p.Max
			break
		}
	}
	if d > p.Max {
		d = p.Max
	}
	if p.Jitter > 0 {
		spread := float64(d) * p.Jitter
		d = time.Duration(float64(d) - spread + rand.Float64()*2*spread)
	}
	if d < 0 {
		d = 0
	}
	return d
}

// Exhausted reports whether a mutation at this attempt count must go to
// terminal failed status instead of being rescheduled.
func (p Policy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}

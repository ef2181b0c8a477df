package realtime

import (
	"math/rand"
	"time"
)

// Backoff computes reconnect delays: Base doubled per attempt, capped at Max,
// plus uniform jitter in [0, Jitter).
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter time.Duration

	// rnd overrides the jitter source in tests; nil means math/rand.
	rnd func() float64
}

func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Base
	for i := 0; i < attempt; i++ {
		if d >= b.Max {
			break
		}
		d *= 2
	}
	if d > b.Max {
		d = b.Max
	}
	rnd := b.rnd
	if rnd == nil {
		rnd = rand.Float64
	}
	return d + time.Duration(rnd()*float64(b.Jitter))
}

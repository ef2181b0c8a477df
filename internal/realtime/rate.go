package realtime

import (
	"context"
	"math"
	"sync"
	"time"
)

type rateSample struct {
	at    time.Time
	delta int64
}

// EventRateEstimator smooths a stream of (timestamp, delta) pairs into an
// events-per-minute figure. It keeps a sliding buffer pruned to the window
// and divides by the observed span, not the full window, so the rate is not
// artificially low right after startup.
type EventRateEstimator struct {
	window   time.Duration
	now      func() time.Time
	onChange func(int)

	mu      sync.Mutex
	samples []rateSample
	rate    int
}

func NewEventRateEstimator(window time.Duration, now func() time.Time, onChange func(int)) *EventRateEstimator {
	if now == nil {
		now = time.Now
	}
	return &EventRateEstimator{window: window, now: now, onChange: onChange}
}

// Observe records one delta at the current time.
func (e *EventRateEstimator) Observe(delta int64) {
	e.mu.Lock()
	e.samples = append(e.samples, rateSample{at: e.now(), delta: delta})
	e.mu.Unlock()
}

// Rate returns the last computed events-per-minute figure. Never negative.
func (e *EventRateEstimator) Rate() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rate
}

// Run recomputes every tick until ctx is cancelled.
func (e *EventRateEstimator) Run(ctx context.Context, tick time.Duration) {
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			e.recompute()
		}
	}
}

func (e *EventRateEstimator) recompute() {
	now := e.now()
	cutoff := now.Add(-e.window)

	e.mu.Lock()
	kept := e.samples[:0]
	for _, s := range e.samples {
		if s.at.After(cutoff) {
			kept = append(kept, s)
		}
	}
	e.samples = kept

	next := 0
	if len(e.samples) > 0 {
		var sum int64
		oldest := e.samples[0].at
		for _, s := range e.samples {
			sum += s.delta
			if s.at.Before(oldest) {
				oldest = s.at
			}
		}
		if sum < 0 {
			sum = 0
		}
		span := now.Sub(oldest).Seconds()
		if span < 1 {
			span = 1
		}
		next = int(math.Round(float64(sum) / span * 60))
	}

	changed := next != e.rate
	e.rate = next
	onChange := e.onChange
	e.mu.Unlock()

	if changed && onChange != nil {
		onChange(next)
	}
}

// Package throttle bounds outbound gateway request rate with a sliding window.
package throttle

import (
	"sync"
	"time"
)

// Throttler admits at most rate calls per window. Wait returns immediately
// while the window has room and otherwise sleeps until the oldest admitted
// call falls out of the window. A rate of zero or less disables throttling.
//
// Unlike a token bucket, the sliding window admits a full burst of rate calls
// instantly and only then delays, which is what trade fronts meter against.
type Throttler struct {
	mu     sync.Mutex
	rate   int
	window time.Duration
	stamps []time.Time

	now   func() time.Time
	sleep func(time.Duration)
}

// New builds a throttler admitting rate calls per window.
func New(rate int, window time.Duration) *Throttler {
	return &Throttler{
		rate:   rate,
		window: window,
		now:    time.Now,
		sleep:  time.Sleep,
	}
}

func (t *Throttler) prune(now time.Time) {
	threshold := now.Add(-t.window)
	i := 0
	for i < len(t.stamps) && !t.stamps[i].After(threshold) {
		i++
	}
	if i > 0 {
		t.stamps = append(t.stamps[:0], t.stamps[i:]...)
	}
}

// Wait blocks until the call is admitted. Admission is re-checked after every
// sleep, so concurrent waiters cannot overfill one window.
func (t *Throttler) Wait() {
	if t.rate <= 0 {
		return
	}
	t.mu.Lock()
	for {
		now := t.now()
		t.prune(now)
		if len(t.stamps) < t.rate {
			t.stamps = append(t.stamps, now)
			t.mu.Unlock()
			return
		}
		delay := t.stamps[0].Add(t.window).Sub(now)
		t.mu.Unlock()
		if delay > 0 {
			t.sleep(delay)
		}
		t.mu.Lock()
	}
}

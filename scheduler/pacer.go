package scheduler

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// jitterFloor is the shortest fraction of the interval a jittered wait uses.
const jitterFloor = 0.1485

// Pacer picks the wait between ticks.
type Pacer struct {
	Interval time.Duration
	// Jitter draws each wait uniformly from [jitterFloor*Interval, Interval].
	Jitter bool

	mu     sync.Mutex
	random *rand.Rand
}

// NewPacer creates a new Pacer.
func NewPacer(interval time.Duration, jitter bool) *Pacer {
	return &Pacer{
		Interval: interval,
		Jitter:   jitter,
		random:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next returns the wait before the next tick.
func (p *Pacer) Next() time.Duration {
	if !p.Jitter || p.Interval <= 0 {
		return p.Interval
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	floor := time.Duration(float64(p.Interval) * jitterFloor)
	return floor + time.Duration(p.random.Int63n(int64(p.Interval-floor)+1))
}

// SleepContext blocks for d or until ctx is done, whichever is first.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

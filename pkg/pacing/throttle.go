// Package pacing provides the pacing primitives shared by the session
// machine and the feed scheduler: a ticket throttle that staggers
// concurrent work, and an exponential backoff schedule.
package pacing

import (
	"context"
	"sync/atomic"
	"time"
)

// Throttle staggers concurrent holders across a refresh period. Each
// Acquire claims a ticket numbered counter mod pieces and sleeps ticket
// number × unit before returning; Release frees the ticket. With p
// concurrent holders the k-th waits (k-1)×unit, and the p+1-th wraps
// around to an immediate start.
type Throttle struct {
	pieces  int64
	unit    time.Duration
	counter atomic.Int64
}

// NewThrottle creates a throttle with the given slot count and stagger
// step. pieces must be positive; unit defaults to one second when zero.
func NewThrottle(pieces int, unit time.Duration) *Throttle {
	if pieces <= 0 {
		pieces = 1
	}
	if unit <= 0 {
		unit = time.Second
	}
	return &Throttle{pieces: int64(pieces), unit: unit}
}

// Acquire claims a ticket and sleeps out its stagger delay. A successful
// Acquire must be paired with Release. On context cancellation the ticket
// is returned and the context error reported.
func (t *Throttle) Acquire(ctx context.Context) error {
	slot := t.take()
	if slot == 0 {
		return nil
	}

	timer := time.NewTimer(time.Duration(slot) * t.unit)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		t.Release()
		return ctx.Err()
	}
}

// Release frees a ticket claimed by Acquire.
func (t *Throttle) Release() {
	t.counter.Add(-1)
}

// take claims the next ticket and returns its slot number.
func (t *Throttle) take() int64 {
	return (t.counter.Add(1) - 1) % t.pieces
}

package pacing

import "time"

// Backoff produces an exponential wait schedule: the n-th call to Next
// returns base^n units, so base 2 yields 2s, 4s, 8s and so on. It is
// not safe for concurrent use; each consumer owns its own schedule.
type Backoff struct {
	base  uint64
	unit  time.Duration
	count uint64
}

// NewBackoff creates a schedule in seconds. A base below 2 is raised to 2.
func NewBackoff(base uint64) *Backoff {
	return NewBackoffWithUnit(base, time.Second)
}

// NewBackoffWithUnit creates a schedule whose steps are multiples of unit.
func NewBackoffWithUnit(base uint64, unit time.Duration) *Backoff {
	if base < 2 {
		base = 2
	}
	if unit <= 0 {
		unit = time.Second
	}
	return &Backoff{base: base, unit: unit}
}

// Next advances the schedule and returns the wait before the next attempt.
func (b *Backoff) Next() time.Duration {
	b.count++
	steps := uint64(1)
	for i := uint64(0); i < b.count; i++ {
		steps *= b.base
	}
	return time.Duration(steps) * b.unit
}

// Forward advances the schedule by n steps without producing a wait. A
// schedule forwarded once starts at base^2.
func (b *Backoff) Forward(n int) {
	if n > 0 {
		b.count += uint64(n)
	}
}

// Reset restarts the schedule so the next wait is base^1 again.
func (b *Backoff) Reset() {
	b.count = 0
}

package pacing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDoubles(t *testing.T) {
	b := NewBackoff(2)

	assert.Equal(t, 2*time.Second, b.Next())
	assert.Equal(t, 4*time.Second, b.Next())
	assert.Equal(t, 8*time.Second, b.Next())
}

func TestBackoffReset(t *testing.T) {
	b := NewBackoff(2)
	b.Next()
	b.Next()

	b.Reset()
	assert.Equal(t, 2*time.Second, b.Next())
}

func TestBackoffForward(t *testing.T) {
	b := NewBackoff(2)
	b.Forward(1)

	// A schedule forwarded once skips the first step.
	assert.Equal(t, 4*time.Second, b.Next())
	assert.Equal(t, 8*time.Second, b.Next())
}

func TestBackoffMinimumBase(t *testing.T) {
	b := NewBackoff(0)
	assert.Equal(t, 2*time.Second, b.Next())
}

func TestBackoffCustomUnit(t *testing.T) {
	b := NewBackoffWithUnit(2, time.Millisecond)

	assert.Equal(t, 2*time.Millisecond, b.Next())
	assert.Equal(t, 4*time.Millisecond, b.Next())
}

package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffFormula(t *testing.T) {
	b := NewBackoff(BackoffOptions{Base: 2, Unit: time.Second, Floor: time.Second, MaxAttempt: 4})

	assert.Equal(t, time.Second, b.Delay(0))
	assert.Equal(t, 2*time.Second, b.Delay(1))
	assert.Equal(t, 8*time.Second, b.Delay(3))
	assert.Equal(t, 16*time.Second, b.Delay(4))
	assert.Equal(t, 16*time.Second, b.Delay(40))
}

func TestBackoffNonDecreasingThenConstantAndAboveFloor(t *testing.T) {
	opts := []BackoffOptions{
		DefaultBackoff,
		{Base: 1.5, Unit: time.Second, Floor: 3 * time.Second, MaxAttempt: 6},
		{Base: 1, Unit: time.Second, Floor: time.Second, MaxAttempt: 2},
		{Base: 3, Unit: 100 * time.Millisecond, Floor: time.Second, MaxAttempt: 5},
	}
	for _, o := range opts {
		b := NewBackoff(o)
		prev := time.Duration(0)
		for n := 0; n < 20; n++ {
			d := b.Delay(n)
			assert.GreaterOrEqual(t, d, o.Floor)
			assert.GreaterOrEqual(t, d, prev)
			if n > o.MaxAttempt {
				assert.Equal(t, b.Delay(o.MaxAttempt), d)
			}
			prev = d
		}
	}
}

func TestBackoffFloorWins(t *testing.T) {
	b := NewBackoff(BackoffOptions{Base: 2, Unit: 10 * time.Millisecond, Floor: time.Second, MaxAttempt: 3})
	assert.Equal(t, time.Second, b.Delay(0))
	assert.Equal(t, time.Second, b.Delay(3))
}

func TestBackoffNextAndReset(t *testing.T) {
	b := NewBackoff(BackoffOptions{Base: 2, Unit: time.Second, Floor: time.Second, MaxAttempt: 2})

	assert.Equal(t, time.Second, b.Next())
	assert.Equal(t, 2*time.Second, b.Next())
	assert.Equal(t, 4*time.Second, b.Next())
	assert.Equal(t, 4*time.Second, b.Next())
	assert.Equal(t, 2, b.Attempt())

	b.Reset()
	assert.Equal(t, 0, b.Attempt())
	assert.Equal(t, time.Second, b.Next())
}

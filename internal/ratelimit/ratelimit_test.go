package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRandomDelayStaysInBounds(t *testing.T) {
	r := NewRandomDelay(1*time.Second, 3*time.Second)

	for i := 0; i < 1000; i++ {
		d := r.next()
		if d < 1*time.Second || d > 3*time.Second {
			t.Fatalf("delay %v outside [1s, 3s]", d)
		}
	}
}

func TestRandomDelayFixed(t *testing.T) {
	r := NewRandomDelay(2*time.Second, 2*time.Second)
	assert.Equal(t, 2*time.Second, r.next())

	inverted := NewRandomDelay(2*time.Second, time.Second)
	assert.Equal(t, inverted.minDelay, inverted.maxDelay, "max below min collapses to min")
}

func TestRandomDelayPauseSleepsDrawnDuration(t *testing.T) {
	r := NewRandomDelay(10*time.Millisecond, 20*time.Millisecond)

	var slept time.Duration
	r.sleep = func(_ context.Context, d time.Duration) error {
		slept = d
		return nil
	}

	assert.NoError(t, r.Pause(context.Background()))
	assert.GreaterOrEqual(t, slept, 10*time.Millisecond)
	assert.LessOrEqual(t, slept, 20*time.Millisecond)
}

func TestPauseHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewRandomDelay(time.Hour, time.Hour)
	start := time.Now()
	assert.ErrorIs(t, r.Pause(ctx), context.Canceled)
	assert.Less(t, time.Since(start), time.Second)

	assert.ErrorIs(t, NoDelay{}.Pause(ctx), context.Canceled)
	assert.NoError(t, NoDelay{}.Pause(context.Background()))
}

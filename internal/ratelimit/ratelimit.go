package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Pacer inserts a pause before a page-load-dependent step.
type Pacer interface {
	Pause(ctx context.Context) error
}

// RandomDelay sleeps for a duration drawn uniformly from [min, max].
type RandomDelay struct {
	minDelay time.Duration
	maxDelay time.Duration
	mu       sync.Mutex
	rnd      *rand.Rand
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewRandomDelay(minDelay, maxDelay time.Duration) *RandomDelay {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &RandomDelay{
		minDelay: minDelay,
		maxDelay: maxDelay,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:    sleepContext,
	}
}

func (r *RandomDelay) Pause(ctx context.Context) error {
	return r.sleep(ctx, r.next())
}

func (r *RandomDelay) next() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.minDelay == r.maxDelay {
		return r.minDelay
	}

	delta := r.maxDelay - r.minDelay
	jitter := time.Duration(r.rnd.Int63n(int64(delta) + 1))
	return r.minDelay + jitter
}

// NoDelay never pauses, but still honours cancellation.
type NoDelay struct{}

func (NoDelay) Pause(ctx context.Context) error {
	return ctx.Err()
}

func sleepContext(ctx context.Context, d time.Duration) error {
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

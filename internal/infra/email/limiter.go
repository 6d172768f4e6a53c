package email

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Limiter serialises provider calls process-wide: one call in flight, and at
// least minInterval between call starts.
type Limiter struct {
	rate *rate.Limiter
	sem  *semaphore.Weighted
}

func NewLimiter(minInterval time.Duration) *Limiter {
	every := rate.Inf
	if minInterval > 0 {
		every = rate.Every(minInterval)
	}
	return &Limiter{rate: rate.NewLimiter(every, 1), sem: semaphore.NewWeighted(1)}
}

// Do runs fn once the limiter admits it.
func (l *Limiter) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer l.sem.Release(1)
	if err := l.rate.Wait(ctx); err != nil {
		return err
	}
	return fn(ctx)
}

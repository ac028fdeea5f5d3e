// Package ratelimit spaces outbound exchange calls by a minimum interval.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter guarantees that at least delay elapses between the starts of two
// permitted operations. It holds a single token, so nothing bursts.
type Limiter struct {
	delay   time.Duration
	limiter *rate.Limiter
}

func New(delay time.Duration) *Limiter {
	l := &Limiter{delay: delay}
	if delay > 0 {
		l.limiter = rate.NewLimiter(rate.Every(delay), 1)
	}
	return l
}

func (l *Limiter) Delay() time.Duration {
	if l == nil {
		return 0
	}
	return l.delay
}

// Throttle suspends the caller until the interval since the previous
// permitted call has elapsed. It fails when ctx is done first or its
// deadline falls before the next slot.
func (l *Limiter) Throttle(ctx context.Context) error {
	if l == nil || l.limiter == nil {
		return nil
	}
	return l.limiter.Wait(ctx)
}

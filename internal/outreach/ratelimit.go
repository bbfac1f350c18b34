package outreach

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// Limiter spaces out sends
type Limiter interface {
	Wait(ctx context.Context) error
}

// RateLimiter hands out send slots spaced by a jittered delay around a base
// interval. Callers reserve a slot under the lock and sleep outside it, so
// concurrent callers queue up without blocking each other's reservations.
type RateLimiter struct {
	base      time.Duration
	minJitter time.Duration

	mu      sync.Mutex
	started bool
	next    time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	rand  func() float64
}

// NewRateLimiter creates a limiter averaging one slot per base interval.
// A non-positive base disables limiting.
func NewRateLimiter(base time.Duration) *RateLimiter {
	return &RateLimiter{
		base:      base,
		minJitter: time.Second,
		now:       time.Now,
		sleep:     sleepContext,
		rand:      rand.Float64,
	}
}

// Wait blocks until the caller's slot comes up or ctx is done
func (l *RateLimiter) Wait(ctx context.Context) error {
	if l.base <= 0 {
		return nil
	}

	l.mu.Lock()
	now := l.now()
	if !l.started {
		l.started = true
		l.next = now
	} else {
		slot := l.next.Add(l.delay())
		if slot.Before(now) {
			slot = now
		}
		l.next = slot
	}
	wait := l.next.Sub(now)
	l.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	return l.sleep(ctx, wait)
}

// delay draws uniformly from [base-jitter, base+jitter], jitter being a fifth
// of base but at least minJitter
func (l *RateLimiter) delay() time.Duration {
	jitter := max(l.base/5, l.minJitter)
	low := max(l.base-jitter, 0)
	high := max(l.base+jitter, low+100*time.Millisecond)
	return low + time.Duration(l.rand()*float64(high-low))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// localLimiter is an in-process token bucket per key. It serves when Redis
// is not configured or not reachable.
type localLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

type bucket struct {
	lim      *rate.Limiter
	limit    int64
	window   time.Duration
	lastSeen time.Time
}

func newLocalLimiter() *localLimiter {
	return &localLimiter{buckets: make(map[string]*bucket)}
}

func (l *localLimiter) check(key string, limit int64, window time.Duration, now time.Time) LimitResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweep(now, window)

	b, ok := l.buckets[key]
	if !ok || b.limit != limit || b.window != window {
		every := window / time.Duration(limit)
		b = &bucket{
			lim:    rate.NewLimiter(rate.Every(every), int(limit)),
			limit:  limit,
			window: window,
		}
		l.buckets[key] = b
	}
	b.lastSeen = now

	res := b.lim.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return LimitResult{
			Allowed:    false,
			Remaining:  0,
			ResetAt:    now.Add(delay),
			RetryAfter: delay,
		}
	}

	remaining := int64(math.Floor(b.lim.TokensAt(now)))
	if remaining < 0 {
		remaining = 0
	}
	// Time until the bucket is full again.
	missing := float64(limit) - b.lim.TokensAt(now)
	reset := now.Add(time.Duration(missing * float64(window) / float64(limit)))
	return LimitResult{Allowed: true, Remaining: remaining, ResetAt: reset}
}

// sweep drops buckets idle for a full window; a bucket that old is full, so
// dropping it changes nothing.
func (l *localLimiter) sweep(now time.Time, window time.Duration) {
	if now.Sub(l.lastSweep) < window {
		return
	}
	l.lastSweep = now
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) >= b.window {
			delete(l.buckets, k)
		}
	}
}

func (l *localLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

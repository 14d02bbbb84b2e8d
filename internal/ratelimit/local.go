package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	localMaxKeys = 10000
	localIdleTTL = 10 * time.Minute
)

// LocalBuckets is the single-process fallback used when redis is not configured.
type LocalBuckets struct {
	mu       sync.Mutex
	limiters map[string]*localEntry
	now      func() time.Time
}

type localEntry struct {
	limiter *rate.Limiter
	seen    time.Time
}

func NewLocalBuckets() *LocalBuckets {
	return newLocalBuckets(time.Now)
}

func newLocalBuckets(now func() time.Time) *LocalBuckets {
	return &LocalBuckets{limiters: make(map[string]*localEntry), now: now}
}

func (b *LocalBuckets) Allow(_ context.Context, key string, r float64, burst int) (*Result, error) {
	if err := checkBucket(key, r, burst); err != nil {
		return nil, err
	}

	now := b.now()
	b.mu.Lock()
	entry, ok := b.limiters[key]
	if !ok {
		if len(b.limiters) >= localMaxKeys {
			b.evictIdle(now)
		}
		entry = &localEntry{limiter: rate.NewLimiter(rate.Limit(r), burst)}
		b.limiters[key] = entry
	}
	entry.seen = now
	b.mu.Unlock()

	reservation := entry.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return &Result{Allowed: false, Limit: burst}, nil
	}
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return &Result{
			Allowed:    false,
			Limit:      burst,
			ResetTime:  now.Add(delay),
			RetryAfter: delay,
		}, nil
	}

	remaining := entry.limiter.TokensAt(now)
	return &Result{
		Allowed:   true,
		Limit:     burst,
		Remaining: int(math.Max(0, math.Floor(remaining))),
		ResetTime: now.Add(refillDelay(remaining, r)),
	}, nil
}

func (b *LocalBuckets) evictIdle(now time.Time) {
	for key, entry := range b.limiters {
		if now.Sub(entry.seen) > localIdleTTL {
			delete(b.limiters, key)
		}
	}
}

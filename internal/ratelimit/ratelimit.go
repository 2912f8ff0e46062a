// Package ratelimit provides a keyed rate limiter used to bound per-user
// burst load, e.g. when one user has many simultaneously-due recurring
// transactions.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Keyed hands out one token-bucket limiter per key. Each key admits up to
// limit completions per window; callers over the limit wait rather than
// fail.
type Keyed struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewKeyed creates a limiter allowing limit operations per key per window.
func NewKeyed(limit int, window time.Duration) *Keyed {
	if limit < 1 {
		limit = 1
	}
	return &Keyed{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Every(window / time.Duration(limit)),
		burst:    limit,
	}
}

// Wait blocks until the key's limiter admits one operation or ctx is done.
func (k *Keyed) Wait(ctx context.Context, key string) error {
	return k.limiter(key).Wait(ctx)
}

// Allow reports whether the key's limiter admits one operation right now.
func (k *Keyed) Allow(key string) bool {
	return k.limiter(key).Allow()
}

func (k *Keyed) limiter(key string) *rate.Limiter {
	k.mu.Lock()
	defer k.mu.Unlock()

	l, ok := k.limiters[key]
	if !ok {
		l = rate.NewLimiter(k.limit, k.burst)
		k.limiters[key] = l
	}
	return l
}

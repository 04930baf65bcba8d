package handlers

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	cleanupInterval = 5 * time.Minute
	maxLimiterAge   = 30 * time.Minute
)

type sessionLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// rateLimiter hands out one token bucket per session and endpoint. A zero
// perMinute disables limiting.
type rateLimiter struct {
	mu        sync.Mutex
	perMinute int
	limiters  map[string]*sessionLimiter
}

func newRateLimiter(perMinute int) *rateLimiter {
	return &rateLimiter{
		perMinute: perMinute,
		limiters:  make(map[string]*sessionLimiter),
	}
}

func (rl *rateLimiter) allow(endpoint, sessionID string) bool {
	if rl == nil || rl.perMinute <= 0 {
		return true
	}
	key := endpoint + ":" + sessionID

	rl.mu.Lock()
	sl, ok := rl.limiters[key]
	if !ok {
		sl = &sessionLimiter{
			limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(rl.perMinute)), rl.perMinute),
		}
		rl.limiters[key] = sl
	}
	sl.lastAccess = time.Now()
	rl.mu.Unlock()

	return sl.limiter.Allow()
}

func (rl *rateLimiter) cleanupStale(maxAge time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := time.Now()
	for key, sl := range rl.limiters {
		if now.Sub(sl.lastAccess) > maxAge {
			delete(rl.limiters, key)
		}
	}
}

// startCleanup drops idle buckets until ctx is cancelled
func (rl *rateLimiter) startCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.cleanupStale(maxLimiterAge)
			case <-ctx.Done():
				return
			}
		}
	}()
}

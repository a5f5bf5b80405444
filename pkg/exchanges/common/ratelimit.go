package common

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter paces outgoing requests and tracks the weight usage venues
// report back in response headers.
type RateLimiter struct {
	pacer *rate.Limiter

	mu            sync.RWMutex
	usedWeight    int
	limit         int
	lastReset     time.Time
	resetInterval time.Duration
}

// NewRateLimiter creates a limiter allowing rps requests per second with a
// small burst, tracking usage against limit per resetInterval (e.g. 1200
// weight per minute on Binance spot).
func NewRateLimiter(rps float64, limit int, resetInterval time.Duration) *RateLimiter {
	if rps <= 0 {
		rps = 5
	}
	return &RateLimiter{
		pacer:         rate.NewLimiter(rate.Limit(rps), 2),
		limit:         limit,
		resetInterval: resetInterval,
		lastReset:     time.Now(),
	}
}

// Wait blocks until the next request may be sent or the context expires.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	return rl.pacer.Wait(ctx)
}

// UpdateFromHeader records the used weight reported by the venue.
func (rl *RateLimiter) UpdateFromHeader(headerValue string) {
	if headerValue == "" {
		return
	}
	weight, err := strconv.Atoi(headerValue)
	if err != nil {
		return
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if time.Since(rl.lastReset) >= rl.resetInterval {
		rl.usedWeight = 0
		rl.lastReset = time.Now()
	}
	rl.usedWeight = weight

	if rl.limit > 0 {
		pct := float64(rl.usedWeight) / float64(rl.limit) * 100
		if pct >= 90 {
			log.Printf("ratelimit: usage critical %d/%d (%.1f%%)", rl.usedWeight, rl.limit, pct)
		}
	}
}

// Usage returns the current weight usage within the window.
func (rl *RateLimiter) Usage() (used, limit int) {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	if time.Since(rl.lastReset) >= rl.resetInterval {
		return 0, rl.limit
	}
	return rl.usedWeight, rl.limit
}

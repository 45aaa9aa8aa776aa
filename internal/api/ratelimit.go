package api

import (
	"sync"

	"golang.org/x/time/rate"
)

type RateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	perSecond float64
	burst     int
}

func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if perSecond <= 0 {
		perSecond = 100
	}
	if burst <= 0 {
		burst = int(perSecond) * 2
	}
	return &RateLimiter{
		limiters:  make(map[string]*rate.Limiter),
		perSecond: perSecond,
		burst:     burst,
	}
}

func (rl *RateLimiter) Limit() float64 {
	return rl.perSecond
}

func (rl *RateLimiter) Allow(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	// MEMORY PROTECTION: Prevent unlimited growth
	if len(rl.limiters) >= 10000 {
		rl.limiters = make(map[string]*rate.Limiter)
	}

	limiter, exists := rl.limiters[client]
	if !exists {
		limiter = rate.NewLimiter(rate.Limit(rl.perSecond), rl.burst)
		rl.limiters[client] = limiter
	}

	return limiter.Allow()
}

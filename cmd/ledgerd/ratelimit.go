// ratelimit.go - Token-bucket rate limiting for the ingest endpoint.
package main

import (
	"sync"
	"time"
)

// RateLimiter is a token bucket refilled at a fixed per-second rate.
type RateLimiter struct {
	mu         sync.Mutex
	tokens     int
	maxTokens  int
	perSecond  int
	lastRefill time.Time
}

// NewRateLimiter creates a bucket holding at most burst tokens, refilled
// at perSecond tokens per second.
func NewRateLimiter(burst, perSecond int) *RateLimiter {
	return &RateLimiter{
		tokens:     burst,
		maxTokens:  burst,
		perSecond:  perSecond,
		lastRefill: time.Now(),
	}
}

// Allow consumes a token if one is available.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	refill := int(now.Sub(rl.lastRefill).Seconds() * float64(rl.perSecond))
	if refill > 0 {
		rl.tokens += refill
		if rl.tokens > rl.maxTokens {
			rl.tokens = rl.maxTokens
		}
		rl.lastRefill = now
	}

	if rl.tokens > 0 {
		rl.tokens--
		return true
	}
	return false
}

// ClientRateLimiter keeps one bucket per remote client.
type ClientRateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*RateLimiter
	burst     int
	perSecond int
}

// NewClientRateLimiter creates a per-client limiter with shared settings.
func NewClientRateLimiter(burst, perSecond int) *ClientRateLimiter {
	return &ClientRateLimiter{
		limiters:  make(map[string]*RateLimiter),
		burst:     burst,
		perSecond: perSecond,
	}
}

// Allow checks whether a request from client is admitted.
func (crl *ClientRateLimiter) Allow(client string) bool {
	crl.mu.Lock()
	limiter, ok := crl.limiters[client]
	if !ok {
		limiter = NewRateLimiter(crl.burst, crl.perSecond)
		crl.limiters[client] = limiter
	}
	crl.mu.Unlock()
	return limiter.Allow()
}

package sources

import (
	"context"
	"sync"
	"time"
)

// RateLimiter spaces out upstream API calls per key so concurrent syncs
// do not exhaust a provider's quota
type RateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*tokenBucket
	config    RateLimitConfig
	lastClean time.Time
}

// RateLimitConfig configures the rate limiter
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per key
	RequestsPerSecond float64

	// BurstSize is the maximum burst size
	BurstSize int

	// IdleTTL is how long an unused key is kept
	IdleTTL time.Duration
}

// DefaultRateLimitConfig returns sensible defaults
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 10,
		BurstSize:         20,
		IdleTTL:           5 * time.Minute,
	}
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = 10
	}
	if config.BurstSize <= 0 {
		config.BurstSize = 20
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = 5 * time.Minute
	}

	return &RateLimiter{
		limiters:  make(map[string]*tokenBucket),
		config:    config,
		lastClean: time.Now(),
	}
}

func (r *RateLimiter) bucket(key string) *tokenBucket {
	r.mu.Lock()
	defer r.mu.Unlock()

	if time.Since(r.lastClean) > r.config.IdleTTL {
		r.cleanupLocked()
	}

	limiter, ok := r.limiters[key]
	if !ok {
		limiter = newTokenBucket(r.config.RequestsPerSecond, r.config.BurstSize)
		r.limiters[key] = limiter
	}
	return limiter
}

// Allow returns true if a request for key may proceed now
func (r *RateLimiter) Allow(key string) bool {
	return r.bucket(key).allow()
}

// Wait blocks until a request for key is allowed or ctx is done
func (r *RateLimiter) Wait(ctx context.Context, key string) error {
	if r == nil {
		return ctx.Err()
	}
	return r.bucket(key).wait(ctx)
}

func (r *RateLimiter) cleanupLocked() {
	r.lastClean = time.Now()
	stale := r.lastClean.Add(-r.config.IdleTTL)
	for key, limiter := range r.limiters {
		limiter.mu.Lock()
		idle := limiter.lastUsed.Before(stale)
		limiter.mu.Unlock()
		if idle {
			delete(r.limiters, key)
		}
	}
}

// tokenBucket implements a simple token bucket rate limiter
type tokenBucket struct {
	mu       sync.Mutex
	rate     float64   // tokens per second
	burst    int       // max tokens
	tokens   float64   // current tokens
	lastUsed time.Time // last request time
	lastFill time.Time // last token fill time
}

func newTokenBucket(rate float64, burst int) *tokenBucket {
	return &tokenBucket{
		rate:     rate,
		burst:    burst,
		tokens:   float64(burst), // Start full
		lastFill: time.Now(),
		lastUsed: time.Now(),
	}
}

func (tb *tokenBucket) allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	tb.lastUsed = time.Now()

	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

func (tb *tokenBucket) wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		tb.refill()
		tb.lastUsed = time.Now()

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		waitTime := time.Duration(float64(time.Second) / tb.rate)
		tb.mu.Unlock()

		timer := time.NewTimer(waitTime)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (tb *tokenBucket) refill() {
	now := time.Now()
	elapsed := now.Sub(tb.lastFill).Seconds()
	tb.lastFill = now

	tb.tokens += elapsed * tb.rate
	if tb.tokens > float64(tb.burst) {
		tb.tokens = float64(tb.burst)
	}
}

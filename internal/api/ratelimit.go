// ratelimit.go implements per-key token-bucket rate limiting for the
// order endpoints.
//
// Each api key gets its own bucket that refills continuously rather than
// in fixed windows, so a well-behaved client never sees a hard cutoff at
// a window boundary. Market data endpoints are unlimited.
package api

import (
	"sync"
	"time"
)

// tokenBucket is a continuously refilling token bucket. Fractional
// tokens accumulate between requests.
type tokenBucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	rate     float64 // tokens per second
	lastTime time.Time
}

func newTokenBucket(capacity, ratePerSecond float64) *tokenBucket {
	return &tokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// take consumes one token if available. Non-blocking; order placement
// answers 429 rather than queueing the request.
func (tb *tokenBucket) take() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	tb.tokens += now.Sub(tb.lastTime).Seconds() * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastTime = now

	if tb.tokens < 1 {
		return false
	}
	tb.tokens--
	return true
}

// RateLimiter hands out one token bucket per api key. Buckets are
// created on first use and live for the process lifetime; the key space
// is bounded by the user table.
type RateLimiter struct {
	mu      sync.Mutex
	burst   float64
	rate    float64
	buckets map[string]*tokenBucket
}

// NewRateLimiter creates a limiter allowing burst immediate requests per
// key, refilled at ratePerSecond.
func NewRateLimiter(burst int, ratePerSecond float64) *RateLimiter {
	return &RateLimiter{
		burst:   float64(burst),
		rate:    ratePerSecond,
		buckets: make(map[string]*tokenBucket),
	}
}

// Allow reports whether the key may perform one more order operation.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	bucket, ok := rl.buckets[key]
	if !ok {
		bucket = newTokenBucket(rl.burst, rl.rate)
		rl.buckets[key] = bucket
	}
	rl.mu.Unlock()

	return bucket.take()
}

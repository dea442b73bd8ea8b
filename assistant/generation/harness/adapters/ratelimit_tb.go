package adapters

import (
	"context"
	"sync"
	"time"

	ports "github.com/ZanzyTHEbar/guild-assistant/assistant/generation/harness/ports"

	"golang.org/x/time/rate"
)

// TokenBucket implements a token bucket rate limiter with one bucket per key.
type TokenBucket struct {
	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	capacity int           // burst per bucket
	every    time.Duration // time between token refills
}

// NewTokenBucket creates a limiter allowing bursts of capacity and one
// further call per every.
func NewTokenBucket(capacity int, every time.Duration) *TokenBucket {
	if capacity < 1 {
		capacity = 1
	}
	return &TokenBucket{
		buckets:  make(map[string]*rate.Limiter),
		capacity: capacity,
		every:    every,
	}
}

// Acquire waits for a token of key's bucket. Tokens are consumed, so release
// is a no-op.
func (tb *TokenBucket) Acquire(ctx context.Context, key string) (release func(), err error) {
	if err := tb.bucket(key).Wait(ctx); err != nil {
		return nil, err
	}
	return func() {}, nil
}

func (tb *TokenBucket) bucket(key string) *rate.Limiter {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	b, exists := tb.buckets[key]
	if !exists {
		limit := rate.Inf
		if tb.every > 0 {
			limit = rate.Every(tb.every)
		}
		b = rate.NewLimiter(limit, tb.capacity)
		tb.buckets[key] = b
	}
	return b
}

// Ensure TokenBucket implements the RateLimiter interface.
var _ ports.RateLimiter = (*TokenBucket)(nil)

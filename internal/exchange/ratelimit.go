// ratelimit.go paces outbound HTTP calls using a continuously-refilling
// token bucket, so a caller that draws from a bucket never bursts past its
// configured rate even under bursty discovery load.
package exchange

import (
	"context"
	"sync"
	"time"
)

// TokenBucket is a continuous-refill rate limiter: tokens accrue at a fixed
// rate up to a capacity, and Wait blocks a caller until one is available.
type TokenBucket struct {
	mu sync.Mutex

	capacity   float64
	refillRate float64 // tokens added per second

	available  float64
	refilledAt time.Time
}

// NewTokenBucket returns a bucket starting full, refilling at ratePerSecond
// up to capacity.
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		refillRate: ratePerSecond,
		available:  capacity,
		refilledAt: time.Now(),
	}
}

// refill credits tokens earned since the last call and returns the current
// balance. Must be called with mu held.
func (tb *TokenBucket) refill() float64 {
	now := time.Now()
	earned := now.Sub(tb.refilledAt).Seconds() * tb.refillRate
	tb.available = min(tb.capacity, tb.available+earned)
	tb.refilledAt = now
	return tb.available
}

// Wait blocks until a token can be spent, or ctx is done first.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		balance := tb.refill()
		if balance >= 1 {
			tb.available--
			tb.mu.Unlock()
			return nil
		}
		deficit := 1 - balance
		untilNextToken := time.Duration(deficit / tb.refillRate * float64(time.Second))
		tb.mu.Unlock()

		timer := time.NewTimer(untilNextToken)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// RateLimiter groups one bucket per outbound call category, so each caller
// only ever waits on its own budget. Only the Discovery Pipeline draws from
// these buckets; the orchestrator's market refresh and the Leader Monitor
// (which paces itself with a per-market delay) do not.
type RateLimiter struct {
	Markets *TokenBucket // markets catalog fetches (discovery ingest)
	Leader  *TokenBucket // leader status polling; not drawn from by any caller
	LLM     *TokenBucket // embedding + LLM provider calls (Discovery Pipeline)
}

// NewRateLimiter sizes buckets for a single-process surveillance engine
// polling a handful of REST endpoints on a slow cadence, well below the
// burst traffic a live market maker would generate.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		Markets: NewTokenBucket(20, 5),
		Leader:  NewTokenBucket(10, 3),
		LLM:     NewTokenBucket(5, 1),
	}
}

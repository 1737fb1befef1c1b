package scanner

import (
	"sync"
	"time"
)

// TokenBucket is a process-local token bucket with a timestamped refill. The
// scanner's emission path checks it non-blockingly: an empty bucket drops the
// emission (counted, never queued).
type TokenBucket struct {
	mu         sync.Mutex
	rate       float64 // tokens per second
	burst      float64 // bucket capacity
	tokens     float64
	lastRefill time.Time
}

// NewTokenBucket creates a bucket that refills at rate tokens per second up
// to burst capacity. The bucket starts full.
func NewTokenBucket(rate, burst float64) *TokenBucket {
	if rate <= 0 {
		rate = 1
	}
	if burst < 1 {
		burst = 1
	}
	return &TokenBucket{
		rate:       rate,
		burst:      burst,
		tokens:     burst,
		lastRefill: time.Now(),
	}
}

// Allow consumes one token if available. It never blocks.
func (b *TokenBucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.tokens += now.Sub(b.lastRefill).Seconds() * b.rate
	if b.tokens > b.burst {
		b.tokens = b.burst
	}
	b.lastRefill = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

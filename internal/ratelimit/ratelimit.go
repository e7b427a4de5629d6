// Package ratelimit implements the token-bucket limiter behind the HTTP
// read API's per-IP limits (§6). It generalizes
// mroxso-wotrlay's rate.go bucket but swaps its TTL-scan goroutine for an
// LRU with a hard cap, per §5 ("Eviction uses LRU with a hard cap
// (≈10,000 entries)").
package ratelimit

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultCap = 10_000

// Bucket is a token bucket with continuous refill. Tokens are float64 to
// support fractional accumulation between calls.
type Bucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	lastActive time.Time
}

func (b *Bucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.lastActive).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.refillRate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.lastActive = now
	}
}

// Limiter owns a fixed population of token buckets, keyed by an arbitrary
// id (pubkey, IP group, or a composite key like "rank-queue:<ip-group>").
// Only Limiter's own methods mutate bucket state, per §5.
type Limiter struct {
	mu      sync.Mutex
	buckets *lru.Cache[string, *Bucket]
}

// NewLimiter creates a Limiter whose bucket population is capped at cap
// entries, evicting least-recently-used buckets once full. cap <= 0 uses the
// spec default of 10,000.
func NewLimiter(cap int) *Limiter {
	if cap <= 0 {
		cap = defaultCap
	}
	c, err := lru.New[string, *Bucket](cap)
	if err != nil {
		// Only returns an error for cap <= 0, excluded above.
		panic(err)
	}
	return &Limiter{buckets: c}
}

func (l *Limiter) getOrCreate(id string, capacity, refillRate float64) *Bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.buckets.Get(id); ok {
		return b
	}
	b := &Bucket{
		tokens:     capacity,
		capacity:   capacity,
		refillRate: refillRate,
		lastActive: time.Now(),
	}
	l.buckets.Add(id, b)
	return b
}

// Allow consumes 1 token from id's bucket, returning false if insufficient.
func (l *Limiter) Allow(id string, capacity, refillRate float64) bool {
	return l.Consume(id, 1, capacity, refillRate)
}

// Consume attempts to consume cost tokens from id's bucket.
func (l *Limiter) Consume(id string, cost, capacity, refillRate float64) bool {
	b := l.getOrCreate(id, capacity, refillRate)
	b.mu.Lock()
	defer b.mu.Unlock()

	// Parameters may drift call to call (e.g. rank changed); always apply
	// the latest before checking.
	b.capacity = capacity
	b.refillRate = refillRate
	b.refillLocked(time.Now())

	if b.tokens < cost {
		return false
	}
	b.tokens -= cost
	return true
}

// Tokens returns the current token count for id, for diagnostics.
func (l *Limiter) Tokens(id string) float64 {
	l.mu.Lock()
	b, ok := l.buckets.Get(id)
	l.mu.Unlock()
	if !ok {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(time.Now())
	return b.tokens
}

// Len reports the current bucket population, for diagnostics/tests.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buckets.Len()
}

// Package ratelimit implements a generic token-bucket limiter, adapted
// from the fixed escalation-cost bucket used elsewhere in the stack:
// here the cost model is a flat one-token-per-call, since
// Session.Validate (§4.2) and the speed-layer dispatcher have no notion
// of graduated action severity, just a per-agent request rate.
package ratelimit

import (
	"sync"
	"sync/atomic"
	"time"
)

// Bucket is a thread-safe token bucket.
type Bucket struct {
	mu           sync.Mutex
	capacity     int
	tokens       int
	refillPeriod time.Duration

	consumedTotal atomic.Uint64
	refillCount   atomic.Uint64

	stop chan struct{}
}

// New creates a Bucket with the given capacity and starts the refill
// goroutine. capacity and refillPeriod must both be > 0. Call Close to
// stop the refill goroutine.
func New(capacity int, refillPeriod time.Duration) *Bucket {
	if capacity <= 0 {
		panic("ratelimit.Bucket: capacity must be > 0")
	}
	if refillPeriod <= 0 {
		panic("ratelimit.Bucket: refillPeriod must be > 0")
	}
	b := &Bucket{
		capacity:     capacity,
		tokens:       capacity,
		refillPeriod: refillPeriod,
		stop:         make(chan struct{}),
	}
	go b.refillLoop()
	return b
}

func (b *Bucket) refillLoop() {
	ticker := time.NewTicker(b.refillPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.mu.Lock()
			b.tokens = b.capacity
			b.mu.Unlock()
			b.refillCount.Add(1)
		case <-b.stop:
			return
		}
	}
}

// Allow attempts to consume a single token. Returns true if one was
// available.
func (b *Bucket) Allow() bool {
	return b.Consume(1)
}

// Consume attempts to consume cost tokens. Returns true if they were
// available and consumed.
func (b *Bucket) Consume(cost int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tokens >= cost {
		b.tokens -= cost
		b.consumedTotal.Add(uint64(cost))
		return true
	}
	return false
}

// Remaining returns the current token count.
func (b *Bucket) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens
}

// Capacity returns the maximum token capacity.
func (b *Bucket) Capacity() int { return b.capacity }

// ConsumedTotal returns the lifetime total of tokens consumed.
func (b *Bucket) ConsumedTotal() uint64 { return b.consumedTotal.Load() }

// RefillCount returns the number of refill cycles completed.
func (b *Bucket) RefillCount() uint64 { return b.refillCount.Load() }

// Close stops the refill goroutine. Safe to call once.
func (b *Bucket) Close() { close(b.stop) }

// PerKey manages one Bucket per key (e.g. per agent_id), created
// lazily on first use.
type PerKey struct {
	mu           sync.Mutex
	buckets      map[string]*Bucket
	capacity     int
	refillPeriod time.Duration
}

// NewPerKey creates a PerKey limiter where each distinct key gets its
// own Bucket with the given capacity and refill period.
func NewPerKey(capacity int, refillPeriod time.Duration) *PerKey {
	return &PerKey{
		buckets:      make(map[string]*Bucket),
		capacity:     capacity,
		refillPeriod: refillPeriod,
	}
}

// Allow consumes one token from key's bucket, creating it if absent.
func (p *PerKey) Allow(key string) bool {
	p.mu.Lock()
	b, ok := p.buckets[key]
	if !ok {
		b = New(p.capacity, p.refillPeriod)
		p.buckets[key] = b
	}
	p.mu.Unlock()
	return b.Allow()
}

// Close stops every bucket's refill goroutine.
func (p *PerKey) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, b := range p.buckets {
		b.Close()
	}
}

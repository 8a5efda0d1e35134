package speedlayer

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// MemCache is Tier 1: a fingerprint→decision LRU, target P99 ≤ 1ms
// (§4.4). Lookups and updates (on a fresh verdict) both take
// golang-lru/v2's internal cache-wide mutex for a single operation; the
// read path is not lock-free.
type MemCache struct {
	cache *lru.Cache[string, Decision]
}

// NewMemCache creates a MemCache bounded to size entries.
func NewMemCache(size int) (*MemCache, error) {
	c, err := lru.New[string, Decision](size)
	if err != nil {
		return nil, err
	}
	return &MemCache{cache: c}, nil
}

// Evaluate implements Tier. A cache miss is reported as VerdictAbstain
// so the dispatcher falls through to the policy cache.
func (m *MemCache) Evaluate(cmd Command) (Decision, error) {
	if d, ok := m.cache.Get(cmd.Fingerprint()); ok {
		return d, nil
	}
	return Decision{Verdict: VerdictAbstain, Reason: "memcache: miss"}, nil
}

// Remember records a non-abstain verdict for cmd's fingerprint so
// future identical commands are answered without falling through to
// slower tiers.
func (m *MemCache) Remember(cmd Command, d Decision) {
	if d.Verdict == VerdictAbstain {
		return
	}
	m.cache.Add(cmd.Fingerprint(), d)
}

// Len returns the number of cached entries.
func (m *MemCache) Len() int {
	return m.cache.Len()
}

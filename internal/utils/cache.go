package utils

import (
	"math"
	"sync"
	"time"
)

// ValueCache remembers the last value seen per key for a limited time.
// Publishers use it to suppress repeats of an unchanged measurement.
type ValueCache struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	data map[string]entry
}

type entry struct {
	v  float64
	at time.Time
}

// NewValueCache creates a cache with the given TTL. If ttl <= 0, it defaults to 1h.
func NewValueCache(ttl time.Duration) *ValueCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ValueCache{ttl: ttl, now: time.Now, data: make(map[string]entry, 8)}
}

// GetValue returns the cached value if it exists and hasn't expired.
func (c *ValueCache) GetValue(key string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(key)
}

func (c *ValueCache) getLocked(key string) (float64, bool) {
	e, ok := c.data[key]
	if !ok {
		return 0, false
	}
	if c.now().Sub(e.at) > c.ttl {
		delete(c.data, key)
		return 0, false
	}
	return e.v, true
}

// SetValue stores the value with the current timestamp.
func (c *ValueCache) SetValue(key string, v float64) {
	c.mu.Lock()
	c.data[key] = entry{v: v, at: c.now()}
	c.mu.Unlock()
}

// Changed reports whether v differs from the cached value by more than
// epsilon (or nothing is cached) and records v when it does.
func (c *ValueCache) Changed(key string, v, epsilon float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.getLocked(key); ok && math.Abs(old-v) <= epsilon {
		return false
	}
	c.data[key] = entry{v: v, at: c.now()}
	return true
}

// Package cache provides the explicit, constructor-injected TTL cache
// used by the Currency Feed (the orchestrator's per-category product
// fallback reads persisted rows through repository.ProductRepository
// and does not use this cache), replacing the teacher's class-level CacheManager/CachedItem map
// (pricing_service/src/FallbackEngine.go) with the pack's real
// dependency for the same concern (§9).
package cache

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cache is a capacity-bounded, TTL-expiring key/value store. Get/Set
// are safe for concurrent use; writes are serialised by the underlying
// implementation.
type Cache[V any] interface {
	Get(key string) (V, bool)
	Set(key string, value V)
	Evict(key string)
}

type ttlCache[V any] struct {
	mu       sync.Mutex
	inner    *gocache.Cache
	ttl      time.Duration
	capacity int
	order    []string // insertion order, for capacity eviction
}

// New constructs a Cache with the given TTL and maximum key capacity.
// When capacity is reached, the oldest key is evicted before a new one
// is inserted (simple FIFO bound; the cache is small and short-lived
// by design — see Currency Feed, capacity 10).
func New[V any](ttl time.Duration, capacity int) Cache[V] {
	return &ttlCache[V]{
		inner:    gocache.New(ttl, ttl*2),
		ttl:      ttl,
		capacity: capacity,
	}
}

func (c *ttlCache[V]) Get(key string) (V, bool) {
	var zero V
	raw, ok := c.inner.Get(key)
	if !ok {
		return zero, false
	}
	v, ok := raw.(V)
	if !ok {
		return zero, false
	}
	return v, true
}

func (c *ttlCache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.inner.Get(key); !exists && c.capacity > 0 {
		for len(c.order) >= c.capacity {
			oldest := c.order[0]
			c.order = c.order[1:]
			c.inner.Delete(oldest)
		}
		c.order = append(c.order, key)
	}

	c.inner.Set(key, value, c.ttl)
}

func (c *ttlCache[V]) Evict(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Delete(key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

package tenant

import (
	"sync"
)

// DefaultCacheSize is the bounded capacity of a per-invocation tenant cache.
const DefaultCacheSize = 100

// Cache is a small bounded tenant cache with FIFO eviction. It is meant to
// live for one invocation; a mutex keeps it safe when a host shares one
// across goroutines anyway.
type Cache struct {
	mu         sync.Mutex
	maxEntries int
	order      []string
	items      map[string]*Tenant
}

// NewCache creates a cache holding at most maxEntries tenants. A
// non-positive capacity falls back to DefaultCacheSize.
func NewCache(maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultCacheSize
	}
	return &Cache{
		maxEntries: maxEntries,
		items:      make(map[string]*Tenant),
	}
}

// Get returns the cached tenant for id. The caller receives a copy.
func (c *Cache) Get(id string) (*Tenant, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.items[id]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// Put stores a tenant, evicting the oldest insertion when full. Updating an
// existing key does not change its eviction position.
func (c *Cache) Put(t *Tenant) {
	if t == nil || t.TenantID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[t.TenantID]; !exists {
		if len(c.order) >= c.maxEntries {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.items, oldest)
		}
		c.order = append(c.order, t.TenantID)
	}
	c.items[t.TenantID] = t.Clone()
}

// Invalidate removes a single tenant from the cache.
func (c *Cache) Invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[id]; !ok {
		return
	}
	delete(c.items, id)
	for i, key := range c.order {
		if key == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Clear empties the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*Tenant)
	c.order = nil
}

// Len returns the number of cached tenants.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

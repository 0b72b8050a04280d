package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"
)

// entry holds a cached value with its absolute expiry.
type entry[V any] struct {
	key       string
	value     V
	expiresAt time.Time
}

// Cache is an in-memory TTL store with a bounded entry count. Insertion order
// drives eviction; with refreshOnGet enabled a hit moves the entry to the
// back, yielding strict LRU on read (the web fetch variant).
type Cache[V any] struct {
	mu           sync.Mutex
	items        map[string]*list.Element
	order        *list.List // front = oldest, back = newest
	defaultTTL   time.Duration
	maxEntries   int
	refreshOnGet bool
}

// New creates a cache evicting in insertion order, as used for the shared
// tool response cache.
func New[V any](defaultTTL time.Duration, maxEntries int) *Cache[V] {
	return &Cache[V]{
		items:      make(map[string]*list.Element),
		order:      list.New(),
		defaultTTL: defaultTTL,
		maxEntries: maxEntries,
	}
}

// NewLRU creates a cache that additionally refreshes entry order on every
// hit, as used for the web fetch cache.
func NewLRU[V any](defaultTTL time.Duration, maxEntries int) *Cache[V] {
	c := New[V](defaultTTL, maxEntries)
	c.refreshOnGet = true
	return c
}

// Key computes a deterministic cache key from the given parts.
func Key(parts ...any) string {
	data, _ := json.Marshal(parts)
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Get returns the cached value for key if present and not expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return zero, false
	}
	ent := elem.Value.(*entry[V])
	if time.Now().After(ent.expiresAt) {
		c.order.Remove(elem)
		delete(c.items, key)
		return zero, false
	}
	if c.refreshOnGet {
		c.order.MoveToBack(elem)
	}
	return ent.value, true
}

// Set stores value under key with the given TTL. A non-positive ttl falls
// back to the cache default. While size exceeds the cap the oldest entry is
// evicted.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	expires := time.Now().Add(ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		ent := elem.Value.(*entry[V])
		ent.value = value
		ent.expiresAt = expires
		c.order.MoveToBack(elem)
		return
	}

	elem := c.order.PushBack(&entry[V]{key: key, value: value, expiresAt: expires})
	c.items[key] = elem

	for c.maxEntries > 0 && c.order.Len() > c.maxEntries {
		oldest := c.order.Front()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*entry[V]).key)
	}
}

// Delete removes key if present.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		c.order.Remove(elem)
		delete(c.items, key)
	}
}

// Len returns the current entry count, including not-yet-purged expired
// entries.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

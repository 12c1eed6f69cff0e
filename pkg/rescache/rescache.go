// Package rescache is an LRU+TTL cache of resolved conflict winners,
// keyed by (object, key, heads-fingerprint), sitting in front of
// pkg/resolve/pkg/materialize's per-call winner computation.
//
// Grounded in the teacher's pkg/cache.QueryCache: same hash-map +
// doubly-linked-list LRU shape, same TTL-on-read expiration, same
// hit/miss statistics — repurposed from caching parsed query plans to
// caching resolved (object,key) winners, since repeatedly reading the
// same key at the same heads (the common case for a UI re-rendering
// unchanged state) would otherwise re-walk the op store's pred/succ
// chains every time.
//
// Invalidation is wholesale, not per-key: any commit or apply_changes
// moves the document's heads, which can change the winner at any key
// (a concurrent op might now be visible), so pkg/document calls Clear
// after every heads-advancing operation rather than trying to reason
// about which keys are affected.
package rescache

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"
)

// Cache is a thread-safe LRU+TTL cache of resolved values.
type Cache struct {
	mu sync.RWMutex

	maxSize int
	ttl     time.Duration
	enabled bool

	list  *list.List
	items map[string]*list.Element

	hits   uint64
	misses uint64
}

type entry struct {
	key       string
	value     any
	expiresAt time.Time
}

// New creates a resolution cache. maxSize <= 0 defaults to 1000; ttl <=
// 0 disables expiration (LRU eviction still applies).
func New(maxSize int, ttl time.Duration) *Cache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &Cache{
		maxSize: maxSize,
		ttl:     ttl,
		enabled: true,
		list:    list.New(),
		items:   make(map[string]*list.Element, maxSize),
	}
}

// Get retrieves a cached resolution by key. Moves the entry to the
// front of the LRU list on hit.
func (c *Cache) Get(key string) (any, bool) {
	if !c.enabled {
		atomic.AddUint64(&c.misses, 1)
		return nil, false
	}

	c.mu.RLock()
	elem, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		atomic.AddUint64(&c.misses, 1)
		return nil, false
	}

	e := elem.Value.(*entry)
	if c.ttl > 0 && time.Now().After(e.expiresAt) {
		c.mu.Lock()
		c.removeElement(elem)
		c.mu.Unlock()
		atomic.AddUint64(&c.misses, 1)
		return nil, false
	}

	c.mu.Lock()
	c.list.MoveToFront(elem)
	c.mu.Unlock()

	atomic.AddUint64(&c.hits, 1)
	return e.value, true
}

// Put stores a resolution under key, evicting the least recently used
// entry if the cache is at capacity.
func (c *Cache) Put(key string, value any) {
	if !c.enabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		e := elem.Value.(*entry)
		e.value = value
		if c.ttl > 0 {
			e.expiresAt = time.Now().Add(c.ttl)
		}
		c.list.MoveToFront(elem)
		return
	}

	for c.list.Len() >= c.maxSize {
		c.evictOldest()
	}

	e := &entry{key: key, value: value}
	if c.ttl > 0 {
		e.expiresAt = time.Now().Add(c.ttl)
	}
	elem := c.list.PushFront(e)
	c.items[key] = elem
}

// Clear discards every cached resolution (spec §4.1: a commit or
// apply_changes invalidates any key's resolved winner, since the new
// heads may reveal a previously-shadowed concurrent op).
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.list.Init()
	c.items = make(map[string]*list.Element, c.maxSize)
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.list.Len()
}

// Stats reports cache hit/miss counters.
type Stats struct {
	Size    int
	MaxSize int
	Hits    uint64
	Misses  uint64
	HitRate float64
}

// Stats returns the current hit/miss statistics.
func (c *Cache) Stats() Stats {
	hits := atomic.LoadUint64(&c.hits)
	misses := atomic.LoadUint64(&c.misses)

	c.mu.RLock()
	size := c.list.Len()
	c.mu.RUnlock()

	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	return Stats{Size: size, MaxSize: c.maxSize, Hits: hits, Misses: misses, HitRate: hitRate}
}

// SetEnabled enables or disables the cache; disabling also clears it.
func (c *Cache) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
	if !enabled {
		c.list.Init()
		c.items = make(map[string]*list.Element, c.maxSize)
	}
}

func (c *Cache) evictOldest() {
	if elem := c.list.Back(); elem != nil {
		c.removeElement(elem)
	}
}

func (c *Cache) removeElement(elem *list.Element) {
	c.list.Remove(elem)
	e := elem.Value.(*entry)
	delete(c.items, e.key)
}

// Package cache provides the process-wide bounded cache used for repository
// references, vector indexes and wiki structures.
package cache

import (
	"container/list"
	"sync"
)

// Sizer reports the approximate memory footprint of a value in bytes.
type Sizer[V any] func(V) int64

// Stats is a snapshot of cache counters.
type Stats struct {
	Entries   int
	Bytes     int64
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

type entry[K comparable, V any] struct {
	key   K
	value V
	size  int64
}

// Cache is an LRU bounded by entry count and by total size. Zero limits mean unbounded.
// It is safe for concurrent use.
type Cache[K comparable, V any] struct {
	mu         sync.Mutex
	maxEntries int
	maxBytes   int64
	sizer      Sizer[V]
	ll         *list.List
	items      map[K]*list.Element
	bytes      int64
	stats      Stats
	onEvict    func(K, V)
}

// Option configures a Cache.
type Option[K comparable, V any] func(*Cache[K, V])

// WithOnEvict registers a callback run (outside the lock) when an entry is evicted or invalidated.
func WithOnEvict[K comparable, V any](fn func(K, V)) Option[K, V] {
	return func(c *Cache[K, V]) { c.onEvict = fn }
}

// New creates a cache. sizer may be nil when only maxEntries matters.
func New[K comparable, V any](maxEntries int, maxBytes int64, sizer Sizer[V], opts ...Option[K, V]) *Cache[K, V] {
	c := &Cache[K, V]{
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		sizer:      sizer,
		ll:         list.New(),
		items:      make(map[K]*list.Element),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the value for key and marks it most recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.ll.MoveToFront(el)
		c.stats.Hits++
		return el.Value.(*entry[K, V]).value, true
	}
	c.stats.Misses++
	var zero V
	return zero, false
}

// Put inserts or replaces the value for key, evicting least recently used entries as needed.
// A single value larger than maxBytes is still stored (it evicts everything else).
func (c *Cache[K, V]) Put(key K, value V) {
	var size int64
	if c.sizer != nil {
		size = c.sizer(value)
	}

	c.mu.Lock()
	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[K, V])
		c.bytes += size - e.size
		e.value = value
		e.size = size
		c.ll.MoveToFront(el)
	} else {
		el := c.ll.PushFront(&entry[K, V]{key: key, value: value, size: size})
		c.items[key] = el
		c.bytes += size
	}
	evicted := c.evictLocked()
	c.mu.Unlock()

	c.notify(evicted)
}

// Invalidate removes key. It reports whether an entry was present.
func (c *Cache[K, V]) Invalidate(key K) bool {
	c.mu.Lock()
	el, ok := c.items[key]
	var removed []*entry[K, V]
	if ok {
		removed = append(removed, c.removeLocked(el))
	}
	c.mu.Unlock()

	c.notify(removed)
	return ok
}

// InvalidateFunc removes every entry whose key satisfies match.
func (c *Cache[K, V]) InvalidateFunc(match func(K) bool) int {
	c.mu.Lock()
	var removed []*entry[K, V]
	for key, el := range c.items {
		if match(key) {
			removed = append(removed, c.removeLocked(el))
		}
	}
	c.mu.Unlock()

	c.notify(removed)
	return len(removed)
}

// Len returns the number of entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Keys returns the cached keys from most to least recently used.
func (c *Cache[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]K, 0, c.ll.Len())
	for el := c.ll.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*entry[K, V]).key)
	}
	return keys
}

// Stats returns a snapshot of the counters.
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = c.ll.Len()
	s.Bytes = c.bytes
	return s
}

func (c *Cache[K, V]) evictLocked() []*entry[K, V] {
	var evicted []*entry[K, V]
	for c.ll.Len() > 1 && c.overLimit() {
		el := c.ll.Back()
		evicted = append(evicted, c.removeLocked(el))
		c.stats.Evictions++
	}
	return evicted
}

func (c *Cache[K, V]) overLimit() bool {
	if c.maxEntries > 0 && c.ll.Len() > c.maxEntries {
		return true
	}
	return c.maxBytes > 0 && c.bytes > c.maxBytes
}

func (c *Cache[K, V]) removeLocked(el *list.Element) *entry[K, V] {
	e := el.Value.(*entry[K, V])
	c.ll.Remove(el)
	delete(c.items, e.key)
	c.bytes -= e.size
	return e
}

func (c *Cache[K, V]) notify(entries []*entry[K, V]) {
	if c.onEvict == nil {
		return
	}
	for _, e := range entries {
		c.onEvict(e.key, e.value)
	}
}

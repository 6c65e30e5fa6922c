package cache

import (
	"sync"
)

// Cache defines a keyed store for computed results.
type Cache[V any] interface {
	// Get retrieves a value from the cache.
	Get(key string) (V, bool)
	// Put stores a value in the cache.
	Put(key string, v V)
	// Size returns the number of items in the cache.
	Size() int
}

// MapCache is a simple in-memory implementation of Cache. Values pass through
// clone on the way in and out so callers never share the cached copy.
// A bounded cache evicts the oldest inserted key once full.
type MapCache[V any] struct {
	data  map[string]V
	order []string
	limit int
	clone func(V) V
	mu    sync.RWMutex
}

// NewMapCache creates an unbounded cache. A nil clone stores values as-is.
func NewMapCache[V any](clone func(V) V) *MapCache[V] {
	return NewBoundedMapCache(0, clone)
}

// NewBoundedMapCache creates a cache holding at most limit entries. A limit
// of zero or less means no bound.
func NewBoundedMapCache[V any](limit int, clone func(V) V) *MapCache[V] {
	if clone == nil {
		clone = func(v V) V { return v }
	}
	return &MapCache[V]{
		data:  make(map[string]V),
		limit: limit,
		clone: clone,
	}
}

func (c *MapCache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if v, ok := c.data[key]; ok {
		return c.clone(v), true
	}
	var zero V
	return zero, false
}

func (c *MapCache[V]) Put(key string, v V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.data[key]; !ok && c.limit > 0 {
		for len(c.order) >= c.limit {
			delete(c.data, c.order[0])
			c.order = c.order[1:]
		}
		c.order = append(c.order, key)
	}
	c.data[key] = c.clone(v)
}

func (c *MapCache[V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// CloneSlice copies a slice; use it as the clone func for slice values.
func CloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	dst := make([]T, len(s))
	copy(dst, s)
	return dst
}

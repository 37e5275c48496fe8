// Package cache holds a string-keyed LRU that loads missing entries once,
// however many goroutines ask for them at the same time.
package cache

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// LoaderCache caches values loaded on miss. Concurrent misses for one key
// share a single load. Failed loads are not cached.
type LoaderCache[V any] struct {
	lru   *lru.Cache[string, V]
	group singleflight.Group
}

// New returns a cache holding at most size entries.
func New[V any](size int) (*LoaderCache[V], error) {
	l, err := lru.New[string, V](size)
	if err != nil {
		return nil, err
	}
	return &LoaderCache[V]{lru: l}, nil
}

// Get returns the cached value for key or loads it. hit reports whether the
// value was already cached.
func (c *LoaderCache[V]) Get(ctx context.Context, key string, load func(context.Context) (V, error)) (v V, hit bool, err error) {
	if v, ok := c.lru.Get(key); ok {
		return v, true, nil
	}
	res, err, _ := c.group.Do(key, func() (any, error) {
		if v, ok := c.lru.Get(key); ok {
			return v, nil
		}
		loaded, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.lru.Add(key, loaded)
		return loaded, nil
	})
	if err != nil {
		var zero V
		return zero, false, err
	}
	return res.(V), false, nil
}

// Invalidate drops key.
func (c *LoaderCache[V]) Invalidate(key string) { c.lru.Remove(key) }

// Purge drops every entry.
func (c *LoaderCache[V]) Purge() { c.lru.Purge() }

// Len returns the number of cached entries.
func (c *LoaderCache[V]) Len() int { return c.lru.Len() }

// Package cache keeps recent classification verdicts keyed by request
// fingerprint.
package cache

import (
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/runnerr0/filterx/internal/classify"
)

// DefaultSize is used when the configured size is not positive.
const DefaultSize = 1024

// Cache is a bounded LRU of verdicts. It is safe for concurrent use.
type Cache struct {
	lru       *lru.Cache[string, classify.Result]
	evictions atomic.Uint64
}

// New creates a cache holding at most size entries.
func New(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultSize
	}
	c := &Cache{}
	l, err := lru.NewWithEvict[string, classify.Result](size, func(string, classify.Result) {
		c.evictions.Add(1)
	})
	if err != nil {
		return nil, fmt.Errorf("creating result cache: %w", err)
	}
	c.lru = l
	return c, nil
}

// Get returns the cached verdict and marks it recently used.
func (c *Cache) Get(key string) (classify.Result, bool) {
	return c.lru.Get(key)
}

// Put stores a verdict, evicting the least recently used entry when full.
func (c *Cache) Put(key string, r classify.Result) {
	c.lru.Add(key, r)
}

// Len returns the number of cached verdicts.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Evictions counts entries removed to make room or by Purge.
func (c *Cache) Evictions() uint64 {
	return c.evictions.Load()
}

// Purge drops every entry, e.g. after the backend changes.
func (c *Cache) Purge() {
	c.lru.Purge()
}

// Package cache memoizes response text by request text.
package cache

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Cache is safe for concurrent use. Entries are never evicted.
//
// Without WithCoalescing, concurrent first-time lookups of one key each run
// their compute function; the first value stored wins and every caller
// returns that stored value.
type Cache struct {
	entries sync.Map // string -> string
	size    atomic.Int64
	flights *singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithCoalescing collapses concurrent first-time computations of the same
// key into one call.
func WithCoalescing() Option {
	return func(c *Cache) {
		c.flights = &singleflight.Group{}
	}
}

// New returns an empty Cache.
func New(opts ...Option) *Cache {
	c := &Cache{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the stored value for key.
func (c *Cache) Get(key string) (string, bool) {
	v, ok := c.entries.Load(key)
	if !ok {
		return "", false
	}
	return v.(string), true
}

// GetOrCompute returns the stored value for key, computing and storing it
// when absent. hit is false only for the caller whose compute ran; callers
// that waited on a coalesced computation report a hit.
func (c *Cache) GetOrCompute(key string, compute func(key string) string) (value string, hit bool) {
	if v, ok := c.Get(key); ok {
		return v, true
	}

	if c.flights == nil {
		return c.store(key, compute(key)), false
	}

	computed := false
	v, _, _ := c.flights.Do(key, func() (any, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		computed = true
		return c.store(key, compute(key)), nil
	})
	return v.(string), !computed
}

// Len is the number of stored keys.
func (c *Cache) Len() int {
	return int(c.size.Load())
}

func (c *Cache) store(key, value string) string {
	actual, loaded := c.entries.LoadOrStore(key, value)
	if !loaded {
		c.size.Add(1)
	}
	return actual.(string)
}

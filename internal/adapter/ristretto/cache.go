// Package ristretto backs the cache port with an in-process ristretto
// cache. It holds the slowly-changing inputs of permission decisions so a
// burst of lock requests does not hammer the projects and users tables.
package ristretto

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// bufferItems is ristretto's recommended Set buffer size.
const bufferItems = 64

// avgEntryBytes is a rough estimate of one cached decision; it only sizes
// the admission counters, not the cache itself.
const avgEntryBytes = 128

// Cache adapts ristretto to the byte-value cache port.
type Cache struct {
	inner *ristretto.Cache[string, []byte]
}

// New creates a cache bounded to maxCostBytes of stored values.
func New(maxCostBytes int64) (*Cache, error) {
	inner, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		// 10x the expected entry count, per the ristretto docs.
		NumCounters: maxCostBytes / avgEntryBytes * 10,
		MaxCost:     maxCostBytes,
		BufferItems: bufferItems,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{inner: inner}, nil
}

// Get returns the cached value for key, reporting whether it was present.
func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	val, found := c.inner.Get(key)
	if !found {
		return nil, false, nil
	}
	return val, true, nil
}

// Set stores value under key for at most ttl. Admission is best-effort:
// ristretto may decline the entry under pressure, which is fine for a cache
// of recomputable decisions.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.inner.SetWithTTL(key, value, int64(len(value)), ttl)
	return nil
}

// Delete evicts key.
func (c *Cache) Delete(_ context.Context, key string) error {
	c.inner.Del(key)
	return nil
}

// Close releases the cache's internal goroutines.
func (c *Cache) Close() {
	c.inner.Close()
}

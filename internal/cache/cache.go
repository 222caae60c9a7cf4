// cache.go — Local record cache: a bounded, by-RID store of the most
// recent record image. The cache is a hint, never authoritative; it is
// cleared per request and invalidated on delete/commit.
package cache

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/lucentgraph/lucent/internal/wire"
)

// Cache is the local record cache named in §4.7. It does not enforce
// strict LRU ordering as a correctness requirement, but golang-lru's
// eviction policy is a reasonable default bound on memory use.
type Cache struct {
	inner *lru.Cache[string, *wire.Record]
	size  int
}

// New constructs a Cache bounded to size entries. Panics if size <= 0,
// mirroring golang-lru's own constructor contract.
func New(size int) *Cache {
	inner, err := lru.New[string, *wire.Record](size)
	if err != nil {
		panic("cache: " + err.Error())
	}
	return &Cache{inner: inner, size: size}
}

// FindRecord returns the cached record image for rid, if present.
func (c *Cache) FindRecord(rid wire.RID) (*wire.Record, bool) {
	return c.inner.Get(rid.Key())
}

// UpdateRecord stores or replaces the cached image for record.RID.
func (c *Cache) UpdateRecord(record *wire.Record) {
	c.inner.Add(record.RID.Key(), record)
}

// DeleteRecord evicts rid from the cache, as happens unconditionally
// after a successful delete.
func (c *Cache) DeleteRecord(rid wire.RID) {
	c.inner.Remove(rid.Key())
}

// Clear empties the cache. Called per request to bound cache lifetime to
// a single request's scope, and on database shutdown.
func (c *Cache) Clear() {
	c.inner.Purge()
}

// Len returns the number of entries currently cached.
func (c *Cache) Len() int {
	return c.inner.Len()
}

// Package cache provides the optional read-through record cache.
//
// The cache attaches to a resource as middleware: Get consults the cache
// before the blob store, and every successful write invalidates the
// record's entry. Entries are JSON-encoded records keyed by
// <resource>/<id>. Two drivers ship: a byte-bounded in-memory LRU and a
// persistent badger store.
//
// Caching is strictly best-effort. Driver failures are logged and the
// operation proceeds against the blob store; a cold or broken cache never
// changes results, only latency.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/s3db-io/s3db/internal/logger"
	"github.com/s3db-io/s3db/pkg/resource"
)

// Driver is a cache backend. Implementations must be safe for
// concurrent use.
type Driver interface {
	// Get returns the cached value and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key. Deleting a missing key is a no-op.
	Delete(ctx context.Context, key string) error

	// Close releases driver resources.
	Close() error
}

// Stats counts cache effectiveness since process start.
type Stats struct {
	Hits        uint64 `json:"hits"`
	Misses      uint64 `json:"misses"`
	Evictions   uint64 `json:"evictions"`
	Errors      uint64 `json:"errors"`
	Invalidated uint64 `json:"invalidated"`
}

// Cache wires a driver into resources.
type Cache struct {
	driver Driver
	ttl    time.Duration
	stats  statsCounters
}

// New returns a cache over driver. A zero ttl caches forever (until
// invalidated or evicted).
func New(driver Driver, ttl time.Duration) *Cache {
	return &Cache{driver: driver, ttl: ttl}
}

// Stats returns a snapshot of the hit counters. Eviction counts come
// from the driver when it tracks them.
func (c *Cache) Stats() Stats {
	s := c.stats.snapshot()
	if ev, ok := c.driver.(interface{ Evictions() uint64 }); ok {
		s.Evictions = ev.Evictions()
	}
	return s
}

// Close releases the driver.
func (c *Cache) Close() error {
	return c.driver.Close()
}

// Attach installs the read-through middleware and write invalidation on r.
func (c *Cache) Attach(r *resource.Resource) {
	name := r.Name()

	r.UseMiddleware(resource.OpGet, func(ctx context.Context, op *resource.OpContext, next resource.Next) (any, error) {
		id, _ := op.Args["id"].(string)
		if id == "" {
			return next()
		}
		key := name + "/" + id

		if raw, ok, err := c.driver.Get(ctx, key); err != nil {
			c.stats.errors.Add(1)
			logger.Warn("cache read failed", "resource", name, "id", id, "error", err)
		} else if ok {
			var rec map[string]any
			if err := json.Unmarshal(raw, &rec); err == nil {
				c.stats.hits.Add(1)
				return rec, nil
			}
			// Unreadable entry: drop it and fall through to the store.
			_ = c.driver.Delete(ctx, key)
		}
		c.stats.misses.Add(1)

		out, err := next()
		if err != nil {
			return out, err
		}
		if rec, ok := out.(map[string]any); ok {
			c.store(ctx, key, rec)
		}
		return out, nil
	})

	invalidate := func(ctx context.Context, op *resource.OpContext, next resource.Next) (any, error) {
		out, err := next()
		if err != nil {
			return out, err
		}
		if id, _ := op.Args["id"].(string); id != "" {
			c.invalidate(ctx, name, id)
		}
		if ids, _ := op.Args["ids"].([]string); len(ids) > 0 {
			for _, id := range ids {
				c.invalidate(ctx, name, id)
			}
		}
		return out, nil
	}
	for _, op := range []string{
		resource.OpUpdate, resource.OpPatch, resource.OpReplace,
		resource.OpUpsert, resource.OpDelete, resource.OpDeleteMany,
	} {
		r.UseMiddleware(op, invalidate)
	}
}

func (c *Cache) store(ctx context.Context, key string, rec map[string]any) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := c.driver.Set(ctx, key, raw, c.ttl); err != nil {
		c.stats.errors.Add(1)
		logger.Warn("cache write failed", "key", key, "error", err)
	}
}

func (c *Cache) invalidate(ctx context.Context, name, id string) {
	if err := c.driver.Delete(ctx, name+"/"+id); err != nil {
		c.stats.errors.Add(1)
		logger.Warn("cache invalidation failed", "resource", name, "id", id, "error", err)
		return
	}
	c.stats.invalidated.Add(1)
}

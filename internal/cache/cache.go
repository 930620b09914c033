// Package cache memoizes dashboard list reads for a short TTL.
//
// It dampens bursts of identical reads; it is not a consistency layer.
// Concurrent misses on the same key each run the loader.
package cache

import (
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/developingchet/wgd-bridge/internal/metrics"
)

const sep = "::"

// Cache is safe for concurrent use.
type Cache struct {
	c   *gocache.Cache
	ttl time.Duration
}

// New returns a cache whose entries expire after ttl. A non-positive ttl
// disables caching: every GetOrLoad runs its loader.
func New(ttl time.Duration) *Cache {
	cleanup := 2 * ttl
	if cleanup < time.Second {
		cleanup = time.Second
	}
	return &Cache{c: gocache.New(ttl, cleanup), ttl: ttl}
}

// TTL returns the entry lifetime.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Key builds a cache key from a resource kind and its identifying parts.
func Key(kind string, parts ...string) string {
	if len(parts) == 0 {
		return kind
	}
	return kind + sep + strings.Join(parts, sep)
}

// GetOrLoad returns the cached value for key or calls load and stores its
// result. Errors are never cached.
func GetOrLoad[T any](c *Cache, key string, load func() (T, error)) (T, error) {
	kind := kindOf(key)
	if c != nil && c.ttl > 0 {
		if v, ok := c.c.Get(key); ok {
			if typed, ok := v.(T); ok {
				metrics.CacheLookups.WithLabelValues(kind, "hit").Inc()
				return typed, nil
			}
		}
	}
	metrics.CacheLookups.WithLabelValues(kind, "miss").Inc()

	v, err := load()
	if err != nil {
		return v, err
	}
	if c != nil && c.ttl > 0 {
		c.c.Set(key, v, c.ttl)
	}
	return v, nil
}

// Invalidate drops the entry for kind and parts. With no parts every entry of
// that kind is dropped.
func (c *Cache) Invalidate(kind string, parts ...string) {
	if c == nil {
		return
	}
	if len(parts) > 0 {
		c.c.Delete(Key(kind, parts...))
		return
	}
	c.c.Delete(kind)
	prefix := kind + sep
	for k := range c.c.Items() {
		if strings.HasPrefix(k, prefix) {
			c.c.Delete(k)
		}
	}
}

// Flush drops every entry.
func (c *Cache) Flush() {
	if c == nil {
		return
	}
	c.c.Flush()
}

// Len returns the number of unexpired entries.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.c.ItemCount()
}

func kindOf(key string) string {
	if i := strings.Index(key, sep); i >= 0 {
		return key[:i]
	}
	return key
}

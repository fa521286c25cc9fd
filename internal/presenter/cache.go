package presenter

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// Cache keeps prepared datasets for a fixed TTL. Concurrent misses for the
// same key share one load.
type Cache struct {
	lru   *expirable.LRU[string, []point]
	group singleflight.Group
}

func NewCache(size int, ttl time.Duration) *Cache {
	if size < 1 {
		size = 1
	}
	return &Cache{
		lru: expirable.NewLRU[string, []point](size, nil, ttl),
	}
}

// get returns the cached value for key or runs load. The bool reports a
// cache hit.
func (c *Cache) get(ctx context.Context, key string, load func(ctx context.Context) ([]point, error)) ([]point, bool, error) {
	if v, ok := c.lru.Get(key); ok {
		return v, true, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		if v, ok := c.lru.Get(key); ok {
			return v, nil
		}
		pts, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.lru.Add(key, pts)
		return pts, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.([]point), false, nil
}

// Invalidate drops every cached entry.
func (c *Cache) Invalidate() {
	c.lru.Purge()
}

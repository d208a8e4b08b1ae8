package catalog

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Cached decorates a Catalog with a TTL cache. Task definitions change
// rarely; every check otherwise costs three catalog round-trips.
type Cached struct {
	inner  Catalog
	exists *ttlcache.Cache[string, bool]
	titles *ttlcache.Cache[string, string]
}

// NewCached wraps a catalog with a TTL cache. Negative existence results are
// cached too, so hammering an unknown task id stays cheap.
func NewCached(inner Catalog, ttl time.Duration) *Cached {
	c := &Cached{
		inner: inner,
		exists: ttlcache.New(
			ttlcache.WithTTL[string, bool](ttl),
		),
		titles: ttlcache.New(
			ttlcache.WithTTL[string, string](ttl),
		),
	}
	go c.exists.Start()
	go c.titles.Start()
	return c
}

// Stop terminates the cache janitors.
func (c *Cached) Stop() {
	c.exists.Stop()
	c.titles.Stop()
}

// TaskExists implements Catalog.
func (c *Cached) TaskExists(ctx context.Context, taskID string) (bool, error) {
	if item := c.exists.Get(taskID); item != nil {
		return item.Value(), nil
	}
	ok, err := c.inner.TaskExists(ctx, taskID)
	if err != nil {
		return false, err
	}
	c.exists.Set(taskID, ok, ttlcache.DefaultTTL)
	return ok, nil
}

// TaskTitle implements Catalog.
func (c *Cached) TaskTitle(ctx context.Context, taskID string) (string, error) {
	return c.title("title/"+taskID, func() (string, error) {
		return c.inner.TaskTitle(ctx, taskID)
	})
}

// PatternTitle implements Catalog.
func (c *Cached) PatternTitle(ctx context.Context, taskID string) (string, error) {
	return c.title("pattern/"+taskID, func() (string, error) {
		return c.inner.PatternTitle(ctx, taskID)
	})
}

func (c *Cached) title(key string, load func() (string, error)) (string, error) {
	if item := c.titles.Get(key); item != nil {
		return item.Value(), nil
	}
	v, err := load()
	if err != nil {
		return "", err
	}
	c.titles.Set(key, v, ttlcache.DefaultTTL)
	return v, nil
}

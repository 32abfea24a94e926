package auth

import (
	"context"
	"errors"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/alshuail/portal-access/pkg/observability"
)

const directoryCacheName = "directory"

// CachedDirectory caches principal lookups in an expirable LRU for display
// purposes. Concurrent misses for the same ID share one backend call. Search
// results are not cached, and status checks use GetPrincipalFresh.
type CachedDirectory struct {
	backend Directory
	cache   *lru.LRU[string, *Principal]
	group   singleflight.Group
	metrics *observability.Metrics
}

// NewCachedDirectory wraps backend with a cache of up to size principals kept for ttl.
// metrics may be nil.
func NewCachedDirectory(backend Directory, size int, ttl time.Duration, metrics *observability.Metrics) *CachedDirectory {
	if size <= 0 {
		size = 1024
	}
	return &CachedDirectory{
		backend: backend,
		cache:   lru.NewLRU[string, *Principal](size, nil, ttl),
		metrics: metrics,
	}
}

// GetPrincipal returns the cached principal or loads it from the backend
func (c *CachedDirectory) GetPrincipal(ctx context.Context, id string) (*Principal, error) {
	if p, ok := c.cache.Get(id); ok {
		c.metrics.RecordCacheLookup(directoryCacheName, true)
		cp := *p
		return &cp, nil
	}
	c.metrics.RecordCacheLookup(directoryCacheName, false)

	v, err, _ := c.group.Do(id, func() (interface{}, error) {
		p, err := c.backend.GetPrincipal(ctx, id)
		if err != nil {
			return nil, err
		}
		c.cache.Add(id, p)
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	cp := *v.(*Principal)
	return &cp, nil
}

// GetPrincipalFresh loads the principal from the backend and replaces the
// cached entry. A principal the backend no longer knows is evicted.
func (c *CachedDirectory) GetPrincipalFresh(ctx context.Context, id string) (*Principal, error) {
	p, err := FreshPrincipal(ctx, c.backend, id)
	if errors.Is(err, ErrPrincipalNotFound) {
		c.Invalidate(id)
	}
	if err != nil {
		return nil, err
	}
	c.cache.Add(id, p)
	cp := *p
	return &cp, nil
}

// SearchPrincipals always goes to the backend
func (c *CachedDirectory) SearchPrincipals(ctx context.Context, query string, limit int) ([]*Principal, error) {
	return c.backend.SearchPrincipals(ctx, query, limit)
}

// Invalidate drops a principal from the cache, e.g. after a status change
func (c *CachedDirectory) Invalidate(id string) {
	c.cache.Remove(id)
}

// Len returns the number of cached principals
func (c *CachedDirectory) Len() int {
	return c.cache.Len()
}

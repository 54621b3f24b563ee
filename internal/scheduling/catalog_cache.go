package scheduling

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// CachedRepository serves catalog reads from a short-lived cache. Reservation
// reads and admission transactions always go to the underlying store.
type CachedRepository struct {
	Repository
	cache *gocache.Cache
}

func NewCachedRepository(repo Repository, ttl time.Duration) *CachedRepository {
	return &CachedRepository{
		Repository: repo,
		cache:      gocache.New(ttl, 2*ttl),
	}
}

func serviceCacheKey(code string) string { return "svc:" + code }
func limitCacheKey(id int64) string      { return fmt.Sprintf("limit:%d", id) }

func (c *CachedRepository) GetServiceByCode(ctx context.Context, code string) (*Service, error) {
	if v, ok := c.cache.Get(serviceCacheKey(code)); ok {
		svc := v.(Service)
		return &svc, nil
	}
	svc, err := c.Repository.GetServiceByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(serviceCacheKey(code), *svc)
	return svc, nil
}

func (c *CachedRepository) GetCapacityLimit(ctx context.Context, serviceID int64) (*CapacityLimit, error) {
	if v, ok := c.cache.Get(limitCacheKey(serviceID)); ok {
		limit, _ := v.(*CapacityLimit)
		if limit == nil {
			return nil, nil
		}
		out := *limit
		return &out, nil
	}
	limit, err := c.Repository.GetCapacityLimit(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	var cached *CapacityLimit
	if limit != nil {
		l := *limit
		cached = &l
	}
	c.cache.SetDefault(limitCacheKey(serviceID), cached)
	return limit, nil
}

func (c *CachedRepository) UpdateServiceDuration(ctx context.Context, code string, durationMinutes int) (*Service, error) {
	svc, err := c.Repository.UpdateServiceDuration(ctx, code, durationMinutes)
	c.cache.Delete(serviceCacheKey(code))
	return svc, err
}

// Invalidate drops every cached catalog entry.
func (c *CachedRepository) Invalidate() {
	c.cache.Flush()
}

package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"taskboard/domain"
)

// ViewCache keeps the last broadcast view of each owner in redis so snapshot
// reads can skip the store. Mutations never read from it.
type ViewCache struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewViewCache returns a cache using client. A nil client disables caching.
func NewViewCache(client *redis.Client, ttl time.Duration) *ViewCache {
	if ttl < 0 {
		ttl = 0
	}
	return &ViewCache{redis: client, ttl: ttl}
}

// Load returns the cached view for owner.
func (c *ViewCache) Load(ctx context.Context, owner string) (domain.GroupedView, bool) {
	if c == nil || c.redis == nil {
		return domain.GroupedView{}, false
	}
	data, err := c.redis.Get(ctx, viewCacheKey(owner)).Bytes()
	if err != nil {
		if err != redis.Nil {
			_ = c.redis.Del(ctx, viewCacheKey(owner)).Err()
		}
		return domain.GroupedView{}, false
	}
	view := domain.NewGroupedView()
	if err := sonic.Unmarshal(data, &view); err != nil {
		_ = c.redis.Del(ctx, viewCacheKey(owner)).Err()
		return domain.GroupedView{}, false
	}
	return view, true
}

// Store saves view for owner. Errors are dropped; the cache is advisory.
func (c *ViewCache) Store(ctx context.Context, owner string, view domain.GroupedView) {
	if c == nil || c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(view)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, viewCacheKey(owner), data, c.ttl).Err()
}

func (c *ViewCache) Evict(ctx context.Context, owner string) {
	if c == nil || c.redis == nil {
		return
	}
	_ = c.redis.Del(ctx, viewCacheKey(owner)).Err()
}

func viewCacheKey(owner string) string {
	return "taskboard:view:" + owner
}

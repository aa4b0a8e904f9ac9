package fetcher

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultCacheTTL  = 15 * time.Minute
	defaultCacheSize = 512
	redisKeyPrefix   = "parley:fetch:"
)

// Cache stores fetched pages by URL. Implementations expire entries on their own.
type Cache interface {
	Get(ctx context.Context, url string) (Page, bool)
	Set(ctx context.Context, url string, page Page)
}

type noopCache struct{}

func (noopCache) Get(context.Context, string) (Page, bool) { return Page{}, false }
func (noopCache) Set(context.Context, string, Page)        {}

// MemoryCache is an in-process LRU with per-entry expiry.
type MemoryCache struct {
	lru *expirable.LRU[string, Page]
}

func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	if size <= 0 {
		size = defaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &MemoryCache{lru: expirable.NewLRU[string, Page](size, nil, ttl)}
}

func (c *MemoryCache) Get(_ context.Context, url string) (Page, bool) {
	return c.lru.Get(url)
}

func (c *MemoryCache) Set(_ context.Context, url string, page Page) {
	c.lru.Add(url, page)
}

func (c *MemoryCache) Len() int {
	return c.lru.Len()
}

// RedisCache shares fetched pages between instances. Redis errors degrade to misses.
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisCache(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, url string) (Page, bool) {
	data, err := c.client.Get(ctx, redisKeyPrefix+url).Bytes()
	if err != nil {
		if err != redis.Nil {
			slog.WarnContext(ctx, "fetch cache read failed", "error", err)
		}
		return Page{}, false
	}

	var page Page
	if err := json.Unmarshal(data, &page); err != nil {
		slog.WarnContext(ctx, "fetch cache entry corrupt", "url", url, "error", err)
		return Page{}, false
	}
	return page, true
}

func (c *RedisCache) Set(ctx context.Context, url string, page Page) {
	data, err := json.Marshal(page)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, redisKeyPrefix+url, data, c.ttl).Err(); err != nil {
		slog.WarnContext(ctx, "fetch cache write failed", "error", err)
	}
}

package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/earthring/zonesync/internal/metrics"
	"github.com/redis/go-redis/v9"
)

const (
	regionCacheKey     = "zonesync:regions:v1"
	regionCacheTimeout = 2 * time.Second
)

// RegionSource lists the province and district hierarchy.
type RegionSource interface {
	ListProvinces() ([]Province, error)
}

// RegionCache serves the region catalog from Redis and falls back to source
// on a miss or when Redis is unavailable.
type RegionCache struct {
	source RegionSource
	client *redis.Client
	ttl    time.Duration
}

// NewRegionCache wraps source with a Redis cache entry living for ttl.
func NewRegionCache(source RegionSource, client *redis.Client, ttl time.Duration) *RegionCache {
	return &RegionCache{source: source, client: client, ttl: ttl}
}

// ListProvinces returns the cached catalog, loading and storing it on a miss.
func (c *RegionCache) ListProvinces() ([]Province, error) {
	ctx, cancel := context.WithTimeout(context.Background(), regionCacheTimeout)
	defer cancel()

	cached, err := c.client.Get(ctx, regionCacheKey).Result()
	switch {
	case err == nil:
		var provinces []Province
		if err := json.Unmarshal([]byte(cached), &provinces); err == nil {
			metrics.RegionCacheHitsTotal.Inc()
			return provinces, nil
		}
		log.Printf("[Regions] Discarding unreadable cache entry: %v", err)
	case !errors.Is(err, redis.Nil):
		log.Printf("[Regions] Cache read failed: %v", err)
	}

	metrics.RegionCacheMissesTotal.Inc()
	provinces, err := c.source.ListProvinces()
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(provinces)
	if err != nil {
		return nil, fmt.Errorf("failed to encode regions: %w", err)
	}
	if err := c.client.Set(ctx, regionCacheKey, data, c.ttl).Err(); err != nil {
		log.Printf("[Regions] Cache write failed: %v", err)
	}
	return provinces, nil
}

// Invalidate drops the cached catalog so the next read reloads it.
func (c *RegionCache) Invalidate(ctx context.Context) error {
	if err := c.client.Del(ctx, regionCacheKey).Err(); err != nil {
		return fmt.Errorf("failed to invalidate region cache: %w", err)
	}
	return nil
}

package database

import (
	"context"
	"fmt"

	"github.com/earthring/zonesync/internal/config"
	"github.com/redis/go-redis/v9"
)

// OpenRedis connects to the configured Redis server. It returns nil, nil
// when Redis is not configured.
func OpenRedis(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

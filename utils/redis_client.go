package utils

import (
	"context"
	"fmt"
	"time"

	"direct-booking/config"
	"direct-booking/internal/logging"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient creates a pooled Redis client and checks that it can reach the server.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(redisOptions(cfg))

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	logging.Info().Str("addr", client.Options().Addr).Msg("connected to redis")
	return client, nil
}

func redisOptions(cfg config.RedisConfig) *redis.Options {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		// Fall back to a bare host:port
		opts = &redis.Options{
			Addr: cfg.URL,
		}
	}

	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdleConns > 0 {
		opts.MinIdleConns = cfg.MinIdleConns
	}
	if cfg.MaxRetries > 0 {
		opts.MaxRetries = cfg.MaxRetries
	}
	return opts
}

// RedisHealthCheck performs a health check on Redis connection
func RedisHealthCheck(ctx context.Context, client *redis.Client) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}

	return nil
}

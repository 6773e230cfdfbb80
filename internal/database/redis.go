package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tradegate/tradegate/internal/config"
	"github.com/tradegate/tradegate/internal/logging"
)

// RedisClient wraps a Redis client. Redis backs the job queue and the audit
// stream; the core degrades gracefully when it is unavailable.
type RedisClient struct {
	Client *redis.Client
	logger logging.Logger
}

// NewRedisConnection creates a new Redis connection and verifies it with a
// ping.
func NewRedisConnection(cfg config.RedisConfig, logger logging.Logger) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr(), err)
	}

	logger.Info("connected to Redis", "addr", cfg.Addr())

	return &RedisClient{Client: client, logger: logger}, nil
}

func (r *RedisClient) Close() error {
	if r == nil || r.Client == nil {
		return nil
	}
	return r.Client.Close()
}

// HealthCheck verifies the Redis connection.
func (r *RedisClient) HealthCheck(ctx context.Context) error {
	if r == nil || r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	return r.Client.Ping(ctx).Err()
}

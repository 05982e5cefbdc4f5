// internal/common/database/redis.go
package database

import (
	"context"
	"errors"
	"time"

	"drivethru-orchestrator/internal/common/config"
	apperrors "drivethru-orchestrator/internal/common/errors"

	"github.com/redis/go-redis/v9"
)

var ErrRedisAddressMissing = errors.New("REDIS_ADDRESS_MISSING")

// RedisClient backs the similarity score cache.
type RedisClient struct {
	Client *redis.Client
}

func NewRedis(cfg config.RedisConfig) (*RedisClient, error) {
	if cfg.Address == "" {
		return nil, ErrRedisAddressMissing
	}

	return &RedisClient{Client: redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  200 * time.Millisecond,
		WriteTimeout: 200 * time.Millisecond,
		PoolSize:     20,
		MinIdleConns: 2,
	})}, nil
}

func (c *RedisClient) Ping(ctx context.Context) error {
	if err := c.Client.Ping(ctx).Err(); err != nil {
		return apperrors.NewDatabaseConnectionError("redis", err)
	}
	return nil
}

func (c *RedisClient) Close() error {
	if c.Client == nil {
		return nil
	}
	return c.Client.Close()
}

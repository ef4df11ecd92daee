// Package redisstore is the shared-store client. It owns the key schema used
// by every process in the pipeline (intake, consumer, socket server) and
// exposes one small repository per concern, all backed by a single
// go-redis client.
package redisstore

import (
	"context"
	"fmt"

	"github.com/finthenticate/server/internal/config"
	"github.com/redis/go-redis/v9"
)

// NewClient builds the shared go-redis client.
func NewClient(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

// Ping verifies connectivity at startup.
func Ping(ctx context.Context, rdb redis.UniversalClient) error {
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

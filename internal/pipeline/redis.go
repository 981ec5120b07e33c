// ABOUTME: Redis-backed ResultCache for multi-instance deployments.
// ABOUTME: Results are stored as JSON with the TTL enforced server-side.

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache shares the dedupe result cache across runtime instances.
// Cache misses are the failure mode: any Redis error degrades to a miss so
// the pipeline keeps working without it.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

var _ ResultCache = (*RedisCache)(nil)

// NewRedisCache connects to redisURL and verifies the connection.
func NewRedisCache(ctx context.Context, redisURL string, ttl time.Duration, logger *slog.Logger) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &RedisCache{
		client: client,
		ttl:    ttl,
		logger: logger.With("component", "pipeline.redis"),
	}, nil
}

// resultKey returns the Redis key for a request fingerprint.
func resultKey(fingerprint string) string {
	return fmt.Sprintf("parley:result:%s", fingerprint)
}

func (c *RedisCache) Get(ctx context.Context, key string) (map[string]any, bool) {
	data, err := c.client.Get(ctx, resultKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("redis get failed", "error", err)
		return nil, false
	}

	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Warn("cached result is not valid JSON", "key", key, "error", err)
		return nil, false
	}
	return result, true
}

func (c *RedisCache) Put(ctx context.Context, key string, result map[string]any) {
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Warn("result not serializable, skipping cache", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, resultKey(key), data, c.ttl).Err(); err != nil {
		c.logger.Warn("redis set failed", "error", err)
	}
}

// Close releases the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Ping checks the Redis connection, for readiness probes.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

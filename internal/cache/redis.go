// Package cache owns the Redis connection the gateway shares between the
// auth context cache and the usage journal stream.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache wraps the shared Redis client.
type Cache struct {
	client *redis.Client
}

// New connects to Redis and verifies the connection before returning.
func New(ctx context.Context, redisURL string) (*Cache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// The pool serves every relay request's auth lookup plus the journal
	// publisher and worker, so it is sized to the relay concurrency
	// rather than a background-job default.
	opt.PoolSize = 32
	opt.MinIdleConns = 4
	opt.PoolTimeout = 4 * time.Second
	opt.ConnMaxIdleTime = 5 * time.Minute

	client := redis.NewClient(opt)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// Ping checks Redis connectivity.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Client exposes the underlying Redis client for the journal's stream
// operations. Cache callers should prefer the typed methods.
func (c *Cache) Client() *redis.Client {
	return c.client
}

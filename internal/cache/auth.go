package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tokengate/tokengate/internal/model"
)

const (
	// authCachePrefix is the Redis key prefix for auth context cache.
	authCachePrefix = "auth:ctx:"
	// authCacheTTL is the time-to-live for cached auth contexts. Also
	// bounds how long a just-revoked key could still resolve if the
	// explicit delete on revoke were to fail.
	authCacheTTL = 5 * time.Minute
)

// CachedAuthContext represents auth context stored in Redis.
type CachedAuthContext struct {
	KeyID              string `json:"key_id"`
	KeyPrefix          string `json:"key_prefix"`
	UserID             string `json:"user_id"`
	SubscriptionActive bool   `json:"subscription_active"`
}

// GetAuthContext retrieves a cached auth context by cache key.
// Returns nil if not found (cache miss).
func (c *Cache) GetAuthContext(ctx context.Context, cacheKey string) (*model.AuthContext, error) {
	key := authCachePrefix + cacheKey

	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		// Cache miss is not an error
		return nil, nil //nolint:nilerr
	}

	var cached CachedAuthContext
	if err := json.Unmarshal(data, &cached); err != nil {
		// Corrupted cache entry - treat as miss
		return nil, nil //nolint:nilerr
	}

	return &model.AuthContext{
		KeyID:              cached.KeyID,
		KeyPrefix:          cached.KeyPrefix,
		UserID:             cached.UserID,
		SubscriptionActive: cached.SubscriptionActive,
	}, nil
}

// SetAuthContext caches an auth context.
func (c *Cache) SetAuthContext(ctx context.Context, cacheKey string, auth *model.AuthContext) error {
	key := authCachePrefix + cacheKey

	cached := CachedAuthContext{
		KeyID:              auth.KeyID,
		KeyPrefix:          auth.KeyPrefix,
		UserID:             auth.UserID,
		SubscriptionActive: auth.SubscriptionActive,
	}

	data, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("marshal auth context: %w", err)
	}

	return c.client.Set(ctx, key, data, authCacheTTL).Err()
}

// DeleteAuthContext removes a cached auth context.
func (c *Cache) DeleteAuthContext(ctx context.Context, cacheKey string) error {
	key := authCachePrefix + cacheKey
	return c.client.Del(ctx, key).Err()
}

// DeleteAuthContextsByKeyPrefix removes every cached auth context for keys
// carrying the given visible prefix. Called on revocation so a revoked key
// fails resolution immediately instead of waiting out the TTL.
func (c *Cache) DeleteAuthContextsByKeyPrefix(ctx context.Context, keyPrefix string) error {
	pattern := authCachePrefix + keyPrefix + ":*"

	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("delete cached auth context: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan cached auth contexts: %w", err)
	}
	return nil
}

// AuthCacheKey derives the cache key for a presented token: the visible
// prefix (so revocation can target it) plus a hash of the full secret
// (so entries never collide across keys sharing a prefix).
func AuthCacheKey(keyPrefix, quickHash string) string {
	return keyPrefix + ":" + quickHash
}

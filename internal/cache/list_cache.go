// Package cache keeps paginated list responses in Redis, keyed per entity and
// tenant so a write can drop every page of one tenant's list at once.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "list:"
	scanCount = 100
)

// ListCache implements core.PageCache.
type ListCache struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewListCache(rdb redis.UniversalClient, ttl time.Duration) *ListCache {
	return &ListCache{rdb: rdb, ttl: ttl}
}

func pageKey(entity string, tenantID int64, page int) string {
	return fmt.Sprintf("%s%s:%d:%d", keyPrefix, entity, tenantID, page)
}

func tenantPattern(entity string, tenantID int64) string {
	return fmt.Sprintf("%s%s:%d:*", keyPrefix, entity, tenantID)
}

// GetPage decodes a cached page into dest. A miss returns false with no error.
func (c *ListCache) GetPage(ctx context.Context, entity string, tenantID int64, page int, dest any) (bool, error) {
	data, err := c.rdb.Get(ctx, pageKey(entity, tenantID, page)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read cached page: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to decode cached page: %w", err)
	}
	return true, nil
}

func (c *ListCache) SetPage(ctx context.Context, entity string, tenantID int64, page int, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode page: %w", err)
	}
	if err := c.rdb.Set(ctx, pageKey(entity, tenantID, page), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache page: %w", err)
	}
	return nil
}

// Invalidate deletes every cached page of entity for the tenant. Keys are
// found with SCAN so a large keyspace is never blocked by KEYS.
func (c *ListCache) Invalidate(ctx context.Context, entity string, tenantID int64) error {
	var cursor uint64
	pattern := tenantPattern(entity, tenantID)
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, scanCount).Result()
		if err != nil {
			return fmt.Errorf("failed to scan %s: %w", pattern, err)
		}
		if len(keys) > 0 {
			if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("failed to delete cached pages: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

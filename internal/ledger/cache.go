package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const cacheVersionKey = "ledger:balance:version"

// Cache stores computed balances in Redis behind a version counter. Bumping
// the version after a posting commits invalidates every cached balance at
// once without enumerating keys.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func (c *Cache) version(ctx context.Context) (int64, error) {
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if err == redis.Nil {
		if err := c.client.Set(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// Bump invalidates all cached balances.
func (c *Cache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, cacheVersionKey).Err()
}

// FetchFloat loads a cached float64 or computes it with the loader. The
// loader is collapsed with singleflight so concurrent cache misses for the
// same key compute once.
func (c *Cache) FetchFloat(ctx context.Context, parts []string, loader func(context.Context) (float64, error)) (float64, error) {
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	ver, err := c.version(ctx)
	if err != nil {
		return loader(ctx)
	}
	key := fmt.Sprintf("%s:%d", strings.Join(parts, ":"), ver)
	raw, err := c.client.Get(ctx, key).Result()
	if err == nil {
		var value float64
		if err := json.Unmarshal([]byte(raw), &value); err == nil {
			return value, nil
		}
	}
	result, err, _ := c.group.Do(key, func() (any, error) {
		value, err := loader(ctx)
		if err != nil {
			return 0.0, err
		}
		data, err := json.Marshal(value)
		if err != nil {
			return 0.0, err
		}
		if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
			return 0.0, err
		}
		return value, nil
	})
	if err != nil {
		return 0, err
	}
	return result.(float64), nil
}

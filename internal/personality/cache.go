package personality

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// ProfileCache caches assembled Profile snapshots so repeated reads within
// a session skip recomputation; adaptation and invalidation still go
// through the Engine directly.
type ProfileCache interface {
	Get(ctx context.Context, userID string) (Profile, bool, error)
	Set(ctx context.Context, userID string, p Profile, ttl time.Duration) error
	Invalidate(ctx context.Context, userID string) error
}

// RedisProfileCache is a Redis-backed ProfileCache, mirroring the
// orchestrator's dedupe store: one client, JSON-serialized values, a
// fixed key prefix.
type RedisProfileCache struct {
	client *redis.Client
	prefix string
}

func NewRedisProfileCache(addr, prefix string) (*RedisProfileCache, error) {
	c := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	if prefix == "" {
		prefix = "personality:"
	}
	return &RedisProfileCache{client: c, prefix: prefix}, nil
}

func (c *RedisProfileCache) key(userID string) string {
	return c.prefix + userID
}

func (c *RedisProfileCache) Get(ctx context.Context, userID string) (Profile, bool, error) {
	raw, err := c.client.Get(ctx, c.key(userID)).Bytes()
	if err == redis.Nil {
		return Profile{}, false, nil
	}
	if err != nil {
		return Profile{}, false, err
	}
	var p Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return Profile{}, false, err
	}
	return p, true, nil
}

func (c *RedisProfileCache) Set(ctx context.Context, userID string, p Profile, ttl time.Duration) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(userID), raw, ttl).Err()
}

func (c *RedisProfileCache) Invalidate(ctx context.Context, userID string) error {
	return c.client.Del(ctx, c.key(userID)).Err()
}

func (c *RedisProfileCache) Close() error { return c.client.Close() }

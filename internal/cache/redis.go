package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisPrefix = "marketdata:cache:"

// RedisBackend stores each entry as a JSON string value. Keys expire after
// the interval's TTL so stale entries do not pile up on the server.
type RedisBackend struct {
	client *redis.Client
}

func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

// DialRedis connects and pings the server.
func DialRedis(ctx context.Context, addr, password string, db int) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return NewRedisBackend(client), nil
}

func redisKey(key Key) string {
	return redisPrefix + key.Symbol + ":" + string(key.Interval)
}

func (r *RedisBackend) Load(ctx context.Context, key Key) (*Entry, error) {
	b, err := r.client.Get(ctx, redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return decode(key, b)
}

func (r *RedisBackend) Save(ctx context.Context, e *Entry, ttl time.Duration) error {
	b, err := encode(e)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, redisKey(e.Key()), b, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", e.Key(), err)
	}
	return nil
}

func (r *RedisBackend) Close() error { return r.client.Close() }

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cchalm/gtd-copilot/internal/items"
)

const redisKeyPrefix = "gtd:cache:"

// RedisStore keeps the item cache in Redis so it survives restarts and can be shared between processes
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to the Redis server at redisURL
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient creates a store from an existing client
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: redisKeyPrefix,
	}
}

func (rs *RedisStore) key(key string) string {
	return rs.prefix + key
}

func (rs *RedisStore) Get(ctx context.Context, key string) (items.Collection, bool, error) {
	raw, err := rs.client.Get(ctx, rs.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s from redis: %w", key, err)
	}

	var value items.Collection
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cached %s: %w", key, err)
	}
	if value == nil {
		value = items.Collection{}
	}
	return value, true, nil
}

func (rs *RedisStore) Set(ctx context.Context, key string, value items.Collection) error {
	if value == nil {
		value = items.Collection{}
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := rs.client.Set(ctx, rs.key(key), raw, 0).Err(); err != nil {
		return fmt.Errorf("failed to write %s to redis: %w", key, err)
	}
	return nil
}

// Close closes the Redis connection
func (rs *RedisStore) Close() error {
	return rs.client.Close()
}

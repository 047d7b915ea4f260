package cache

import (
	"context"
	"errors"
	"time"

	"github.com/aman-churiwal/ioc-gateway/internal/storage"
)

type RedisBackend struct {
	redis *storage.RedisClient
}

func NewRedisBackend(redis *storage.RedisClient) *RedisBackend {
	return &RedisBackend{redis: redis}
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := b.redis.GetBytes(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrMiss
	}
	return val, err
}

func (b *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return b.redis.Set(ctx, key, value, ttl)
}

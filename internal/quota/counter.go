package quota

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/aman-churiwal/ioc-gateway/internal/storage"
)

// RedisCounter shares quota state across every gateway process
type RedisCounter struct {
	redis *storage.RedisClient
}

func NewRedisCounter(redis *storage.RedisClient) *RedisCounter {
	return &RedisCounter{redis: redis}
}

func (c *RedisCounter) IncrWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return c.redis.IncrWithExpiry(ctx, key, ttl)
}

func (c *RedisCounter) Get(ctx context.Context, key string) (int64, error) {
	val, err := c.redis.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(val, 10, 64)
}

type memoryCount struct {
	value     int64
	expiresAt time.Time
}

// MemoryCounter is a single-process Counter for tests and Redis-less runs
type MemoryCounter struct {
	mu     sync.Mutex
	counts map[string]*memoryCount
	now    func() time.Time
}

func NewMemoryCounter(clock func() time.Time) *MemoryCounter {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryCounter{
		counts: make(map[string]*memoryCount),
		now:    clock,
	}
}

func (c *MemoryCounter) IncrWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	entry, ok := c.counts[key]
	if !ok || !now.Before(entry.expiresAt) {
		entry = &memoryCount{expiresAt: now.Add(ttl)}
		c.counts[key] = entry
	}
	entry.value++
	return entry.value, nil
}

func (c *MemoryCounter) Get(ctx context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.counts[key]
	if !ok || !c.now().Before(entry.expiresAt) {
		return 0, nil
	}
	return entry.value, nil
}

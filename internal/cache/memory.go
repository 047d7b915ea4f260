package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// In-process backend with per-key expiry and a background sweep
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string]memoryEntry
	now  func() time.Time
	stop chan struct{}
	once sync.Once
}

// sweep <= 0 disables the background cleanup goroutine
func NewMemoryBackend(sweep time.Duration) *MemoryBackend {
	return newMemoryBackend(sweep, time.Now)
}

func newMemoryBackend(sweep time.Duration, now func() time.Time) *MemoryBackend {
	b := &MemoryBackend{
		data: make(map[string]memoryEntry),
		now:  now,
		stop: make(chan struct{}),
	}
	if sweep > 0 {
		go b.cleanup(sweep)
	}
	return b
}

func (b *MemoryBackend) Get(ctx context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	entry, ok := b.data[key]
	b.mu.RUnlock()

	if !ok {
		return nil, ErrMiss
	}
	now := b.now()
	if !now.Before(entry.expiresAt) {
		b.mu.Lock()
		// a Set may have replaced the entry since the read lock was dropped
		if current, ok := b.data[key]; ok && !now.Before(current.expiresAt) {
			delete(b.data, key)
		}
		b.mu.Unlock()
		return nil, ErrMiss
	}

	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, nil
}

func (b *MemoryBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.data[key] = memoryEntry{value: stored, expiresAt: b.now().Add(ttl)}
	return nil
}

func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data)
}

// Close stops the sweep goroutine
func (b *MemoryBackend) Close() {
	b.once.Do(func() { close(b.stop) })
}

func (b *MemoryBackend) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.removeExpired()
		case <-b.stop:
			return
		}
	}
}

func (b *MemoryBackend) removeExpired() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	for k, entry := range b.data {
		if !now.Before(entry.expiresAt) {
			delete(b.data, k)
		}
	}
}

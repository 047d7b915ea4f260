package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/aman-churiwal/ioc-gateway/internal/metrics"
	"github.com/aman-churiwal/ioc-gateway/internal/observability"
	"go.uber.org/zap"
)

// ErrMiss is returned by backends when a key is absent
var ErrMiss = errors.New("cache miss")

type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Entry is the stored envelope around a cached payload
type Entry struct {
	Payload  json.RawMessage `json:"payload"`
	StoredAt time.Time       `json:"stored_at"`
	TTL      time.Duration   `json:"ttl"`
}

func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.StoredAt.Add(e.TTL))
}

type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Errors  int64   `json:"errors"`
	HitRate float64 `json:"hit_rate"`
}

type Options struct {
	DefaultTTL time.Duration
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Cache is a best-effort response cache. Backend failures are logged and
// behave as misses; they never fail the caller.
type Cache struct {
	backend    Backend
	defaultTTL time.Duration
	now        func() time.Time
	logger     *zap.Logger

	hits   atomic.Int64
	misses atomic.Int64
	errors atomic.Int64
}

func New(backend Backend, opts Options) *Cache {
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = time.Hour
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Cache{
		backend:    backend,
		defaultTTL: opts.DefaultTTL,
		now:        opts.Clock,
		logger:     observability.OrNop(opts.Logger),
	}
}

func (c *Cache) Get(ctx context.Context, fingerprint string) ([]byte, bool) {
	if fingerprint == "" {
		return nil, false
	}

	raw, err := c.backend.Get(ctx, key(fingerprint))
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			c.recordError("get", fingerprint, err)
		}
		c.miss()
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		c.recordError("decode", fingerprint, err)
		c.miss()
		return nil, false
	}

	if entry.Expired(c.now()) {
		c.miss()
		return nil, false
	}

	c.hits.Add(1)
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return entry.Payload, true
}

// Put stores value under fingerprint. ttl <= 0 uses the default TTL.
func (c *Cache) Put(ctx context.Context, fingerprint string, value []byte, ttl time.Duration) {
	if fingerprint == "" {
		return
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	if !json.Valid(value) {
		c.recordError("encode", fingerprint, errors.New("payload is not valid JSON"))
		return
	}

	data, err := json.Marshal(Entry{
		Payload:  value,
		StoredAt: c.now().UTC(),
		TTL:      ttl,
	})
	if err != nil {
		c.recordError("encode", fingerprint, err)
		return
	}

	if err := c.backend.Set(ctx, key(fingerprint), data, ttl); err != nil {
		c.recordError("set", fingerprint, err)
	}
}

func (c *Cache) Stats() Stats {
	hits, misses := c.hits.Load(), c.misses.Load()
	rate := 0.0
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return Stats{Hits: hits, Misses: misses, Errors: c.errors.Load(), HitRate: rate}
}

func (c *Cache) miss() {
	c.misses.Add(1)
	metrics.CacheLookups.WithLabelValues("miss").Inc()
}

func (c *Cache) recordError(op, fingerprint string, err error) {
	c.errors.Add(1)
	metrics.CacheLookups.WithLabelValues("error").Inc()
	c.logger.Warn("cache backend error, continuing without cache",
		zap.String("op", op),
		zap.String("fingerprint", fingerprint),
		zap.Error(err))
}

func key(fingerprint string) string {
	return "cache:" + fingerprint
}

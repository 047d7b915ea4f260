package middleware

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/aman-churiwal/ioc-gateway/internal/models"
	"github.com/aman-churiwal/ioc-gateway/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	usageBatchSize  = 100
	usageFlushEvery = 5 * time.Second
)

// Implemented by repository.UsageRepository
type UsageWriter interface {
	CreateBatch(ctx context.Context, records []models.UsageRecord) error
}

// UsageRecorder persists usage records asynchronously in batches. Recording
// never blocks a request: when the buffer is full the record is dropped.
type UsageRecorder struct {
	writer     UsageWriter
	records    chan models.UsageRecord
	flushEvery time.Duration
	logger     *zap.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewUsageRecorder(writer UsageWriter, bufferSize int, logger *zap.Logger) *UsageRecorder {
	return newUsageRecorder(writer, bufferSize, usageFlushEvery, logger)
}

func newUsageRecorder(writer UsageWriter, bufferSize int, flushEvery time.Duration, logger *zap.Logger) *UsageRecorder {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	r := &UsageRecorder{
		writer:     writer,
		records:    make(chan models.UsageRecord, bufferSize),
		flushEvery: flushEvery,
		logger:     observability.OrNop(logger),
		done:       make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *UsageRecorder) run() {
	defer close(r.done)

	batch := make([]models.UsageRecord, 0, usageBatchSize)
	ticker := time.NewTicker(r.flushEvery)
	defer ticker.Stop()

	for {
		select {
		case rec, ok := <-r.records:
			if !ok {
				r.insert(batch)
				return
			}
			batch = append(batch, rec)
			if len(batch) >= usageBatchSize {
				r.insert(batch)
				batch = make([]models.UsageRecord, 0, usageBatchSize)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				r.insert(batch)
				batch = make([]models.UsageRecord, 0, usageBatchSize)
			}
		}
	}
}

func (r *UsageRecorder) insert(batch []models.UsageRecord) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := r.writer.CreateBatch(ctx, batch); err != nil {
		r.logger.Warn("failed to insert usage records", zap.Int("count", len(batch)), zap.Error(err))
	}
}

// Record queues rec, reporting false when it was dropped
func (r *UsageRecorder) Record(rec models.UsageRecord) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false
	}

	select {
	case r.records <- rec:
		return true
	default:
		r.logger.Warn("usage record buffer full, dropping record", zap.String("tenant", rec.TenantID))
		return false
	}
}

// Close flushes queued records and stops the worker
func (r *UsageRecorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.records)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Middleware records one usage row per authenticated request it wraps
func (r *UsageRecorder) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		tenant := c.GetString(KeyTenantID)
		if tenant == "" {
			return
		}

		rec := models.UsageRecord{
			Timestamp:     start.UTC(),
			TenantID:      tenant,
			Tier:          TierFrom(c),
			Endpoint:      c.FullPath(),
			IndicatorType: c.GetString(KeyIndicatorType),
			StatusCode:    c.Writer.Status(),
			Success:       c.Writer.Status() < 400,
			ErrorCode:     c.GetString(KeyErrorCode),
			ProcessingMs:  int(time.Since(start).Milliseconds()),
			CacheHit:      c.GetBool(KeyCacheHit),
			SourcesUsed:   strings.Join(c.GetStringSlice(KeySourcesUsed), ","),
			IPAddress:     c.ClientIP(),
		}
		if v, ok := c.Get(KeyAPIKeyID); ok {
			if id, ok := v.(uuid.UUID); ok {
				rec.APIKeyID = &id
			}
		}
		if ms := c.GetInt64(KeyProcessingMs); ms > 0 {
			rec.ProcessingMs = int(ms)
		}

		r.Record(rec)
	}
}

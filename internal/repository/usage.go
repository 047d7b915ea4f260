package repository

import (
	"context"
	"time"

	"github.com/aman-churiwal/ioc-gateway/internal/models"
	"github.com/aman-churiwal/ioc-gateway/internal/storage"
	"gorm.io/gorm"
)

type UsageRepository struct {
	db *storage.Postgres
}

func NewUsageRepository(db *storage.Postgres) *UsageRepository {
	return &UsageRepository{db: db}
}

// Inserts multiple usage records in one statement
func (r *UsageRepository) CreateBatch(ctx context.Context, records []models.UsageRecord) error {
	if len(records) == 0 {
		return nil
	}

	return r.db.DB.WithContext(ctx).Create(&records).Error
}

// Optional tenant filter; "" means all tenants
type UsageFilter struct {
	TenantID string
	From     time.Time
	To       time.Time
}

func (r *UsageRepository) scope(ctx context.Context, f UsageFilter) *gorm.DB {
	q := r.db.DB.WithContext(ctx).
		Model(&models.UsageRecord{}).
		Where("timestamp BETWEEN ? AND ?", f.From, f.To)
	if f.TenantID != "" {
		q = q.Where("tenant_id = ?", f.TenantID)
	}
	return q
}

type UsageTotals struct {
	Total           int64   `json:"total"`
	Failures        int64   `json:"failures"`
	CacheHits       int64   `json:"cache_hits"`
	AvgProcessingMs float64 `json:"avg_processing_ms"`
}

func (r *UsageRepository) Totals(ctx context.Context, f UsageFilter) (UsageTotals, error) {
	var t UsageTotals
	err := r.scope(ctx, f).
		Select(`COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN success THEN 0 ELSE 1 END), 0) AS failures,
			COALESCE(SUM(CASE WHEN cache_hit THEN 1 ELSE 0 END), 0) AS cache_hits,
			COALESCE(AVG(processing_ms), 0) AS avg_processing_ms`).
		Scan(&t).Error

	return t, err
}

type UsageBucket struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// Counts records grouped by column, most frequent first. column must be a trusted identifier.
func (r *UsageRepository) CountBy(ctx context.Context, f UsageFilter, column string, limit int) ([]UsageBucket, error) {
	var buckets []UsageBucket
	err := r.scope(ctx, f).
		Select(column + " AS key, COUNT(*) AS count").
		Group(column).
		Order("count DESC").
		Limit(limit).
		Scan(&buckets).Error

	return buckets, err
}

type UsageHour struct {
	Hour            time.Time `json:"hour"`
	Count           int64     `json:"count"`
	AvgProcessingMs float64   `json:"avg_processing_ms"`
}

// Returns the record count grouped by hour
func (r *UsageRepository) Hourly(ctx context.Context, f UsageFilter) ([]UsageHour, error) {
	var hours []UsageHour
	err := r.scope(ctx, f).
		Select("DATE_TRUNC('hour', timestamp) AS hour, COUNT(*) AS count, AVG(processing_ms) AS avg_processing_ms").
		Group("hour").
		Order("hour ASC").
		Scan(&hours).Error

	return hours, err
}

// Deletes records older than before
func (r *UsageRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.DB.WithContext(ctx).
		Where("timestamp < ?", before).
		Delete(&models.UsageRecord{})

	return result.RowsAffected, result.Error
}

package service

import (
	"context"
	"time"

	"github.com/aman-churiwal/ioc-gateway/internal/repository"
)

// UsageStore is implemented by repository.UsageRepository
type UsageStore interface {
	Totals(ctx context.Context, f repository.UsageFilter) (repository.UsageTotals, error)
	CountBy(ctx context.Context, f repository.UsageFilter, column string, limit int) ([]repository.UsageBucket, error)
	Hourly(ctx context.Context, f repository.UsageFilter) ([]repository.UsageHour, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

type UsageService struct {
	repository UsageStore
	now        func() time.Time
}

func NewUsageService(repo UsageStore) *UsageService {
	return &UsageService{repository: repo, now: time.Now}
}

type UsageSummary struct {
	repository.UsageTotals
	SuccessRate    float64                  `json:"success_rate"`
	CacheHitRate   float64                  `json:"cache_hit_rate"`
	TopEndpoints   []repository.UsageBucket `json:"top_endpoints"`
	IndicatorTypes []repository.UsageBucket `json:"indicator_types"`
	ErrorCodes     []repository.UsageBucket `json:"error_codes"`
}

// Summary aggregates usage for one tenant, or all tenants when TenantID is empty
func (s *UsageService) Summary(ctx context.Context, f repository.UsageFilter) (*UsageSummary, error) {
	totals, err := s.repository.Totals(ctx, f)
	if err != nil {
		return nil, err
	}

	summary := &UsageSummary{UsageTotals: totals}
	if totals.Total == 0 {
		return summary, nil
	}

	summary.SuccessRate = float64(totals.Total-totals.Failures) / float64(totals.Total) * 100
	summary.CacheHitRate = float64(totals.CacheHits) / float64(totals.Total) * 100

	if summary.TopEndpoints, err = s.repository.CountBy(ctx, f, "endpoint", 10); err != nil {
		return nil, err
	}
	if summary.IndicatorTypes, err = s.repository.CountBy(ctx, f, "indicator_type", 10); err != nil {
		return nil, err
	}
	if summary.ErrorCodes, err = s.repository.CountBy(ctx, f, "error_code", 10); err != nil {
		return nil, err
	}

	return summary, nil
}

func (s *UsageService) TimeSeries(ctx context.Context, f repository.UsageFilter) ([]repository.UsageHour, error) {
	return s.repository.Hourly(ctx, f)
}

// Cleanup deletes records older than the retention period
func (s *UsageService) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := s.now().AddDate(0, 0, -retentionDays)
	return s.repository.DeleteBefore(ctx, cutoff)
}

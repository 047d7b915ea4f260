package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aman-churiwal/ioc-gateway/internal/metrics"
	"github.com/aman-churiwal/ioc-gateway/internal/models"
	"github.com/aman-churiwal/ioc-gateway/internal/observability"
	"github.com/aman-churiwal/ioc-gateway/internal/ratelimit"
	"go.uber.org/zap"
)

// ErrQuotaExceeded means the tenant spent its budget for the current UTC day
var (
	ErrQuotaExceeded = errors.New("daily quota exceeded")
	// The counter store failed; the call is refused rather than let through
	ErrUnavailable = errors.New("quota store unavailable")
)

const keyTTL = 24 * time.Hour

// Counter is the shared store. IncrWithExpiry must increment and set the
// expiry of a new key in one atomic round trip.
type Counter interface {
	IncrWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Get(ctx context.Context, key string) (int64, error)
}

type Decision struct {
	Allowed   bool        `json:"allowed"`
	Tier      models.Tier `json:"tier"`
	Used      int64       `json:"used"`
	Limit     int64       `json:"limit"`
	Remaining int64       `json:"remaining"`
	ResetAt   time.Time   `json:"reset_at"`
}

func DefaultLimits() map[models.Tier]int64 {
	return map[models.Tier]int64{
		models.TierFree:   20,
		models.TierMedium: 500,
		models.TierPlus:   2000,
		models.TierAdmin:  10000,
	}
}

// Guard enforces per-tenant daily call budgets
type Guard struct {
	counter Counter
	limits  map[models.Tier]int64
	now     func() time.Time
	logger  *zap.Logger
}

type Options struct {
	Limits map[models.Tier]int64
	Clock  func() time.Time
	Logger *zap.Logger
}

func NewGuard(counter Counter, opts Options) *Guard {
	if opts.Limits == nil {
		opts.Limits = DefaultLimits()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Guard{
		counter: counter,
		limits:  opts.Limits,
		now:     opts.Clock,
		logger:  observability.OrNop(opts.Logger),
	}
}

// LimitsFromConfig overlays the config's tier map on DefaultLimits, ignoring unknown tier names
func LimitsFromConfig(tiers map[string]int) map[models.Tier]int64 {
	limits := DefaultLimits()
	for name, limit := range tiers {
		tier, err := models.ParseTier(name)
		if err != nil {
			continue
		}
		limits[tier] = int64(limit)
	}
	return limits
}

// Limit returns the daily cap for tier; unknown tiers get 0
func (g *Guard) Limit(tier models.Tier) int64 {
	return g.limits[tier]
}

// CheckAndIncrement spends one unit of the tenant's daily budget. The increment
// is the atomicity boundary and is never rolled back, so a denied call still counts.
func (g *Guard) CheckAndIncrement(ctx context.Context, tenantID string, tier models.Tier) (Decision, error) {
	now := g.now()
	limit := g.Limit(tier)

	count, err := g.counter.IncrWithExpiry(ctx, Key(tenantID, now), keyTTL)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	d := g.decision(tier, count, limit, now)
	d.Allowed = count <= limit

	label := "allowed"
	if !d.Allowed {
		label = "denied"
		g.logger.Info("tenant quota exceeded",
			zap.String("tenant", tenantID),
			zap.String("tier", tier.String()),
			zap.Int64("used", count),
			zap.Int64("limit", limit))
	}
	metrics.QuotaDecisions.WithLabelValues(tier.String(), label).Inc()

	if !d.Allowed {
		return d, ErrQuotaExceeded
	}
	return d, nil
}

// Usage reports the tenant's standing for today without spending anything
func (g *Guard) Usage(ctx context.Context, tenantID string, tier models.Tier) (Decision, error) {
	now := g.now()
	limit := g.Limit(tier)

	count, err := g.counter.Get(ctx, Key(tenantID, now))
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	d := g.decision(tier, count, limit, now)
	d.Allowed = count < limit
	return d, nil
}

func (g *Guard) decision(tier models.Tier, count, limit int64, now time.Time) Decision {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Tier:      tier,
		Used:      count,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   ratelimit.NextDay(now),
	}
}

// Key is quota:{tenant}:{epochDay}
func Key(tenantID string, now time.Time) string {
	return fmt.Sprintf("quota:%s:%d", tenantID, ratelimit.EpochDay(now))
}

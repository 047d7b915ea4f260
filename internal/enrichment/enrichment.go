package enrichment

import (
	"context"
	"fmt"
	"sync"

	"github.com/aman-churiwal/ioc-gateway/internal/indicator"
	"github.com/aman-churiwal/ioc-gateway/internal/models"
	"github.com/aman-churiwal/ioc-gateway/internal/observability"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Source adds intelligence on top of the provider responses already gathered.
// The returned payload should carry top-level "score" and "confidence".
type Source interface {
	Name() string
	Enrich(ctx context.Context, value string, t indicator.Type, existing map[string]map[string]any) (map[string]any, error)
}

// Level selects which group of sources a caller asked for
type Level int

const (
	LevelEnhanced Level = iota
	LevelDeep
)

type Request struct {
	Value    string
	Type     indicator.Type
	Tier     models.Tier
	Enhanced bool
	Deep     bool
	Existing map[string]map[string]any
}

type Config struct {
	Enhanced     []Source
	Deep         []Source
	EnhancedTier models.Tier // Default: medium
	DeepTier     models.Tier // Default: plus
	Logger       *zap.Logger
}

// Runner runs the sources a tenant is entitled to. A failing source is logged
// and left out; it never fails the analysis.
type Runner struct {
	enhanced     []Source
	deep         []Source
	enhancedTier models.Tier
	deepTier     models.Tier
	logger       *zap.Logger
}

func NewRunner(cfg Config) *Runner {
	if cfg.Enhanced == nil {
		cfg.Enhanced = []Source{NewEnhancedPlaceholder()}
	}
	if cfg.Deep == nil {
		cfg.Deep = []Source{NewDeepPlaceholder()}
	}
	if cfg.EnhancedTier == "" {
		cfg.EnhancedTier = models.TierMedium
	}
	if cfg.DeepTier == "" {
		cfg.DeepTier = models.TierPlus
	}

	return &Runner{
		enhanced:     cfg.Enhanced,
		deep:         cfg.Deep,
		enhancedTier: cfg.EnhancedTier,
		deepTier:     cfg.DeepTier,
		logger:       observability.OrNop(cfg.Logger),
	}
}

// Eligible lists the sources req may run after tier gating
func (r *Runner) Eligible(req Request) []Source {
	var sources []Source
	if req.Enhanced && req.Tier.AtLeast(r.enhancedTier) {
		sources = append(sources, r.enhanced...)
	}
	if req.Deep && req.Tier.AtLeast(r.deepTier) {
		sources = append(sources, r.deep...)
	}
	return sources
}

// Run executes eligible sources concurrently and returns their payloads by source name
func (r *Runner) Run(ctx context.Context, req Request) map[string]map[string]any {
	sources := r.Eligible(req)
	if len(sources) == 0 {
		return nil
	}

	var (
		mu  sync.Mutex
		out = make(map[string]map[string]any, len(sources))
		g   errgroup.Group
	)

	for _, src := range sources {
		g.Go(func() (err error) {
			defer func() {
				if p := recover(); p != nil {
					err = fmt.Errorf("enrichment source %s panicked: %v", src.Name(), p)
				}
				if err != nil {
					r.logger.Warn("enrichment failed", zap.String("source", src.Name()), zap.Error(err))
				}
			}()

			payload, err := src.Enrich(ctx, req.Value, req.Type, req.Existing)
			if err != nil {
				return err
			}
			if payload == nil {
				return nil
			}

			mu.Lock()
			out[src.Name()] = payload
			mu.Unlock()
			return nil
		})
	}

	// errors are per source and already logged
	_ = g.Wait()
	return out
}

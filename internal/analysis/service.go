package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/aman-churiwal/ioc-gateway/internal/cache"
	"github.com/aman-churiwal/ioc-gateway/internal/enrichment"
	"github.com/aman-churiwal/ioc-gateway/internal/fusion"
	"github.com/aman-churiwal/ioc-gateway/internal/indicator"
	"github.com/aman-churiwal/ioc-gateway/internal/metrics"
	"github.com/aman-churiwal/ioc-gateway/internal/models"
	"github.com/aman-churiwal/ioc-gateway/internal/observability"
	"github.com/aman-churiwal/ioc-gateway/internal/provider"
	"github.com/aman-churiwal/ioc-gateway/internal/quota"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	Registry   *provider.Registry
	Guard      *quota.Guard
	Cache      *cache.Cache // optional
	Engine     *fusion.Engine
	Enrichment *enrichment.Runner
	Timeout    time.Duration // Default: 2 minutes
	CacheTTL   time.Duration // 0 uses the cache's default
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service runs indicator analyses and metered provider pass-through calls
type Service struct {
	registry *provider.Registry
	guard    *quota.Guard
	cache    *cache.Cache
	engine   *fusion.Engine
	enrich   *enrichment.Runner
	timeout  time.Duration
	cacheTTL time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

func NewService(opts Options) *Service {
	if opts.Engine == nil {
		opts.Engine = fusion.NewEngine(fusion.Config{Logger: opts.Logger})
	}
	if opts.Enrichment == nil {
		opts.Enrichment = enrichment.NewRunner(enrichment.Config{Logger: opts.Logger})
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Service{
		registry: opts.Registry,
		guard:    opts.Guard,
		cache:    opts.Cache,
		engine:   opts.Engine,
		enrich:   opts.Enrichment,
		timeout:  opts.Timeout,
		cacheTTL: opts.CacheTTL,
		now:      opts.Clock,
		logger:   observability.OrNop(opts.Logger),
	}
}

type outcome struct {
	payload provider.Payload
	cached  bool
	err     error
}

// Analyze classifies the indicator, spends one unit of the tenant's quota and
// fuses what the relevant providers report about it
func (s *Service) Analyze(ctx context.Context, req Request) (*Result, error) {
	start := s.now()

	// a caller-supplied type is only a hint and must match what the value is
	t, err := indicator.Classify(req.Indicator)
	if err != nil {
		return nil, err
	}
	if req.Type != "" && req.Type != t {
		return nil, fmt.Errorf("%w: value is not a valid %s indicator", indicator.ErrUnsupported, req.Type)
	}

	calls, err := route(req.Indicator, t, s.registry.Configured)
	if err != nil {
		return nil, err
	}
	if !s.registry.Configured(provider.VirusTotal) {
		return nil, notConfigured(provider.VirusTotal, calls[0].endpoint)
	}

	decision, err := s.spend(ctx, req.TenantID, req.Tier)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// no shared cancellation: a failing secondary must not abort the primary
	outcomes := make([]outcome, len(calls))
	var g errgroup.Group
	for i, c := range calls {
		g.Go(func() error {
			client, _ := s.registry.Get(c.provider)
			p, cached, err := s.fetch(ctx, client, c.endpoint, c.pathParams, c.query, nil)
			outcomes[i] = outcome{payload: p, cached: cached, err: err}
			return nil
		})
	}
	_ = g.Wait()

	status := StatusCompleted
	responses := make(map[string]map[string]any, len(calls))
	sources := make([]string, 0, len(calls))
	allCached := true

	for i, c := range calls {
		o := outcomes[i]
		if o.err != nil {
			if c.primary {
				s.observe(t, "failed", start)
				s.logger.Warn("primary provider failed",
					zap.String("provider", c.provider),
					zap.String("indicator_type", string(t)),
					zap.Error(o.err))
				return nil, o.err
			}
			s.logger.Warn("secondary provider failed, continuing degraded",
				zap.String("provider", c.provider),
				zap.Error(o.err))
			responses[c.provider] = nil
			status = StatusPartial
			continue
		}
		responses[c.provider] = o.payload
		sources = append(sources, c.provider)
		allCached = allCached && o.cached
	}

	score := s.engine.Score(t, responses)
	vt := fusion.NewEnvelope(responses[provider.VirusTotal])
	vendors := fusion.VendorResults(vt)
	reputation := fusion.ExtractReputation(vt)
	timeline := fusion.ExtractTimeline(vt)

	extra := s.enrich.Run(ctx, enrichment.Request{
		Value:    req.Indicator,
		Type:     t,
		Tier:     req.Tier,
		Enhanced: req.Enhanced,
		Deep:     req.Deep,
		Existing: responses,
	})
	if len(extra) > 0 {
		score = s.engine.Enhance(t, responses, extra)
		for _, name := range sortedKeys(extra) {
			sources = append(sources, name)
		}
		if deep := extra[fusion.SourceDeepAnalysis]; deep != nil {
			e := fusion.NewEnvelope(deep)
			reputation.Categories = appendStrings(reputation.Categories, e.Slice("additional_categories"))
			reputation.Tags = appendStrings(reputation.Tags, e.Slice("behavioral_tags"))
		}
	}

	result := &Result{
		Indicator:      req.Indicator,
		Type:           t,
		Status:         status,
		ThreatScore:    score,
		VendorResults:  vendors,
		DetectionRatio: fusion.DetectionRatio(vendors),
		Reputation:     reputation.Verdict,
		Categories:     reputation.Categories,
		Tags:           reputation.Tags,
		FirstSeen:      timeline.FirstSeen,
		LastSeen:       timeline.LastSeen,
		Geolocation:    fusion.ExtractGeolocation(t, responses),
		Metadata: Metadata{
			AnalysisID:   uuid.NewString(),
			AnalyzedAt:   start.UTC(),
			ProcessingMs: s.now().Sub(start).Milliseconds(),
			SourcesUsed:  sources,
			Cached:       allCached,
		},
		Quota: decision,
	}

	if req.IncludeRaw {
		raw := make(map[string]map[string]any, len(responses)+len(extra))
		for name, p := range responses {
			if p != nil {
				raw[name] = p
			}
		}
		for name, p := range extra {
			raw[name] = p
		}
		result.RawResponses = raw
	}

	s.observe(t, string(status), start)
	s.logger.Info("indicator analysed",
		zap.String("analysis_id", result.Metadata.AnalysisID),
		zap.String("indicator_type", string(t)),
		zap.Float64("score", score.OverallScore),
		zap.String("threat_level", string(score.Level)),
		zap.Strings("sources", sources),
		zap.Bool("cached", allCached))

	return result, nil
}

// Proxy forwards one catalog operation to a provider on behalf of a tenant.
// Read operations are served from the response cache when possible.
func (s *Service) Proxy(ctx context.Context, req ProxyRequest) (*ProxyResult, error) {
	client, ok := s.registry.Get(req.Provider)
	if !ok {
		return nil, ErrUnknownProvider
	}
	ep, _, err := client.Catalog().Resolve(req.Endpoint, req.PathParams)
	if err != nil {
		return nil, &provider.Error{
			Kind:     provider.ErrUnsupportedEndpoint,
			Provider: req.Provider,
			Endpoint: req.Endpoint,
			Err:      err,
		}
	}
	if !client.Configured() {
		return nil, notConfigured(req.Provider, req.Endpoint)
	}

	decision, err := s.spend(ctx, req.TenantID, req.Tier)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		payload provider.Payload
		cached  bool
	)
	if ep.Method == http.MethodGet {
		payload, cached, err = s.fetch(ctx, client, req.Endpoint, req.PathParams, req.Query, req.Body)
	} else {
		payload, err = client.Call(ctx, req.Endpoint, req.PathParams, req.Query, req.Body)
	}
	if err != nil {
		return nil, err
	}

	return &ProxyResult{
		Provider: req.Provider,
		Endpoint: req.Endpoint,
		Cached:   cached,
		Data:     payload,
		Quota:    decision,
	}, nil
}

func (s *Service) spend(ctx context.Context, tenantID string, tier models.Tier) (quota.Decision, error) {
	decision, err := s.guard.CheckAndIncrement(ctx, tenantID, tier)
	if errors.Is(err, quota.ErrQuotaExceeded) {
		return decision, &QuotaError{Decision: decision}
	}
	return decision, err
}

// fetch serves a provider call from the cache or performs it and stores the result
func (s *Service) fetch(ctx context.Context, client *provider.Client, endpoint string, pathParams, query map[string]string, body any) (provider.Payload, bool, error) {
	var fp string
	if s.cache != nil {
		fp = cache.Fingerprint(client.Name()+"."+endpoint, pathParams, query, body)
	}

	if fp != "" {
		if data, ok := s.cache.Get(ctx, fp); ok {
			var p provider.Payload
			if err := json.Unmarshal(data, &p); err == nil && p != nil {
				return p, true, nil
			}
		}
	}

	p, err := client.Call(ctx, endpoint, pathParams, query, body)
	if err != nil {
		return nil, false, err
	}

	if fp != "" {
		if data, err := json.Marshal(p); err == nil {
			// store even if the request deadline fires right after the call
			s.cache.Put(context.WithoutCancel(ctx), fp, data, s.cacheTTL)
		}
	}
	return p, false, nil
}

func (s *Service) observe(t indicator.Type, status string, start time.Time) {
	metrics.AnalysisDuration.WithLabelValues(string(t), status).Observe(s.now().Sub(start).Seconds())
}

func notConfigured(name, endpoint string) error {
	return &provider.Error{
		Kind:     provider.ErrProviderUnavailable,
		Provider: name,
		Endpoint: endpoint,
		Message:  "provider not configured",
	}
}

func sortedKeys(m map[string]map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func appendStrings(dst []string, src []any) []string {
	for _, v := range src {
		if s, ok := v.(string); ok && s != "" {
			dst = append(dst, s)
		}
	}
	return dst
}

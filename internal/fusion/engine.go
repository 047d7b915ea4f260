package fusion

import (
	"fmt"
	"math"

	"github.com/aman-churiwal/ioc-gateway/internal/indicator"
	"github.com/aman-churiwal/ioc-gateway/internal/observability"
	"go.uber.org/zap"
)

type Level string

const (
	LevelCritical Level = "critical"
	LevelHigh     Level = "high"
	LevelMedium   Level = "medium"
	LevelLow      Level = "low"
	LevelBenign   Level = "benign"
)

type Threshold struct {
	Level Level
	Min   float64
}

// Descending; the first threshold met wins
var DefaultThresholds = []Threshold{
	{LevelCritical, 0.8},
	{LevelHigh, 0.6},
	{LevelMedium, 0.4},
	{LevelLow, 0.2},
}

type ThreatScore struct {
	OverallScore float64            `json:"overall_score"`
	Confidence   float64            `json:"confidence"`
	Level        Level              `json:"threat_level"`
	Factors      map[string]float64 `json:"factors"`
}

// Source describes how one provider contributes to fusion
type Source struct {
	Weight  float64
	Adapter Adapter
	// Empty means every indicator type
	Types []indicator.Type
}

func (s Source) applies(t indicator.Type) bool {
	if len(s.Types) == 0 {
		return true
	}
	for _, st := range s.Types {
		if st == t {
			return true
		}
	}
	return false
}

const (
	SourceVirusTotal    = "virustotal"
	SourceAbuseIPDB     = "abuseipdb"
	SourceURLScan       = "urlscan"
	SourceEnhancedIntel = "enhanced_intel"
	SourceDeepAnalysis  = "deep_analysis"
)

func DefaultSources() map[string]Source {
	return map[string]Source{
		SourceVirusTotal:    {Weight: 0.7, Adapter: VirusTotalAdapter},
		SourceAbuseIPDB:     {Weight: 0.3, Adapter: AbuseIPDBAdapter, Types: []indicator.Type{indicator.TypeIP}},
		SourceURLScan:       {Weight: 0.3, Adapter: URLScanAdapter, Types: []indicator.Type{indicator.TypeURL, indicator.TypeDomain}},
		SourceEnhancedIntel: {Weight: 0, Adapter: EnrichmentAdapter},
		SourceDeepAnalysis:  {Weight: 0, Adapter: EnrichmentAdapter},
	}
}

type Config struct {
	Sources    map[string]Source
	Thresholds []Threshold
	Logger     *zap.Logger
}

// Engine fuses per-source scores into one weighted score. It never fails:
// bad payloads and panicking adapters contribute (0, 0).
type Engine struct {
	sources    map[string]Source
	thresholds []Threshold
	logger     *zap.Logger
}

func NewEngine(cfg Config) *Engine {
	if cfg.Sources == nil {
		cfg.Sources = DefaultSources()
	}
	if cfg.Thresholds == nil {
		cfg.Thresholds = DefaultThresholds
	}

	return &Engine{
		sources:    cfg.Sources,
		thresholds: cfg.Thresholds,
		logger:     observability.OrNop(cfg.Logger),
	}
}

// WithWeights returns a copy of the engine with some source weights replaced
func (e *Engine) WithWeights(weights map[string]float64) *Engine {
	sources := make(map[string]Source, len(e.sources))
	for name, s := range e.sources {
		if w, ok := weights[name]; ok {
			s.Weight = w
		}
		sources[name] = s
	}
	return &Engine{sources: sources, thresholds: e.thresholds, logger: e.logger}
}

// Score fuses the responses present in the map. A nil payload marks a source
// that was consulted but failed; it appears in the factors with 0.
func (e *Engine) Score(t indicator.Type, responses map[string]map[string]any) ThreatScore {
	factors := make(map[string]float64, len(responses))
	var (
		overall       float64
		confidenceSum float64
		contributors  int
	)

	for name, payload := range responses {
		src, ok := e.sources[name]
		if !ok || !src.applies(t) {
			continue
		}

		score, confidence := e.run(name, src.Adapter, payload)
		factors[name] = score
		overall += score * src.Weight
		if confidence > 0 {
			confidenceSum += confidence
			contributors++
		}
	}

	overall = clamp(overall)
	confidence := 0.0
	if contributors > 0 {
		confidence = clamp(confidenceSum / float64(contributors))
	}

	return ThreatScore{
		OverallScore: overall,
		Confidence:   confidence,
		Level:        e.Level(overall),
		Factors:      factors,
	}
}

// Enhance reruns Score over the base responses extended with extra sources
func (e *Engine) Enhance(t indicator.Type, base, extra map[string]map[string]any) ThreatScore {
	merged := make(map[string]map[string]any, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return e.Score(t, merged)
}

func (e *Engine) Level(score float64) Level {
	for _, th := range e.thresholds {
		if score >= th.Min {
			return th.Level
		}
	}
	return LevelBenign
}

func (e *Engine) run(name string, adapter Adapter, payload map[string]any) (score, confidence float64) {
	if payload == nil || adapter == nil {
		return 0, 0
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("score adapter panicked",
				zap.String("source", name),
				zap.String("panic", fmt.Sprint(r)))
			score, confidence = 0, 0
		}
	}()

	score, confidence = adapter(NewEnvelope(payload))
	return clamp(score), clamp(confidence)
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

package enrichment

import (
	"context"

	"github.com/aman-churiwal/ioc-gateway/internal/fusion"
	"github.com/aman-churiwal/ioc-gateway/internal/indicator"
)

// Placeholder stands in for a commercial intel feed. It contributes nothing to
// the score and only describes the shape a real source would fill.
type Placeholder struct {
	name     string
	sections func(t indicator.Type, existing map[string]map[string]any) map[string]any
}

func (p *Placeholder) Name() string {
	return p.name
}

func (p *Placeholder) Enrich(ctx context.Context, value string, t indicator.Type, existing map[string]map[string]any) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	payload := map[string]any{
		"score":      0.0,
		"confidence": 0.0,
		"status":     "placeholder",
	}
	for k, v := range p.sections(t, existing) {
		payload[k] = v
	}
	return payload, nil
}

func NewEnhancedPlaceholder() *Placeholder {
	return &Placeholder{
		name: fusion.SourceEnhancedIntel,
		sections: func(t indicator.Type, existing map[string]map[string]any) map[string]any {
			s := map[string]any{
				"additional_context":    map[string]any{},
				"behavioral_indicators": []any{},
				"threat_hunting_rules":  []any{},
			}
			if existing[fusion.SourceVirusTotal] != nil {
				s["advanced_heuristics"] = map[string]any{}
			}
			return s
		},
	}
}

func NewDeepPlaceholder() *Placeholder {
	return &Placeholder{
		name: fusion.SourceDeepAnalysis,
		sections: func(t indicator.Type, existing map[string]map[string]any) map[string]any {
			s := map[string]any{
				"additional_categories": []any{},
				"behavioral_tags":       []any{},
				"network_analysis":      map[string]any{},
				"temporal_analysis":     map[string]any{},
			}
			switch t {
			case indicator.TypeIP:
				s["ip_reputation"] = map[string]any{}
			case indicator.TypeDomain, indicator.TypeURL:
				s["domain_analysis"] = map[string]any{}
			case indicator.TypeHash:
				s["file_analysis"] = map[string]any{}
			}
			return s
		},
	}
}

package analysis

import (
	"time"

	"github.com/aman-churiwal/ioc-gateway/internal/fusion"
	"github.com/aman-churiwal/ioc-gateway/internal/indicator"
	"github.com/aman-churiwal/ioc-gateway/internal/models"
	"github.com/aman-churiwal/ioc-gateway/internal/quota"
)

type Status string

const (
	StatusCompleted Status = "completed"
	// A secondary provider failed and its factor was recorded as zero
	StatusPartial Status = "partial"
)

type Request struct {
	Indicator string
	// Optional; classified from Indicator when empty
	Type       indicator.Type
	TenantID   string
	Tier       models.Tier
	IncludeRaw bool
	Enhanced   bool
	Deep       bool
}

type Metadata struct {
	AnalysisID   string    `json:"analysis_id"`
	AnalyzedAt   time.Time `json:"analyzed_at"`
	ProcessingMs int64     `json:"processing_time_ms"`
	SourcesUsed  []string  `json:"sources_used"`
	Cached       bool      `json:"cached"`
}

type Result struct {
	Indicator      string                    `json:"indicator"`
	Type           indicator.Type            `json:"indicator_type"`
	Status         Status                    `json:"status"`
	ThreatScore    fusion.ThreatScore        `json:"threat_score"`
	VendorResults  []fusion.VendorResult     `json:"vendor_results"`
	DetectionRatio string                    `json:"detection_ratio"`
	Reputation     string                    `json:"reputation,omitempty"`
	Categories     []string                  `json:"categories"`
	Tags           []string                  `json:"tags"`
	FirstSeen      *time.Time                `json:"first_seen,omitempty"`
	LastSeen       *time.Time                `json:"last_seen,omitempty"`
	Geolocation    map[string]any            `json:"geolocation,omitempty"`
	Metadata       Metadata                  `json:"metadata"`
	RawResponses   map[string]map[string]any `json:"raw_responses,omitempty"`

	// Quota standing after this request; surfaced as headers, not body
	Quota quota.Decision `json:"-"`
}

type ProxyRequest struct {
	TenantID   string
	Tier       models.Tier
	Provider   string
	Endpoint   string
	PathParams map[string]string
	Query      map[string]string
	Body       any
}

type ProxyResult struct {
	Provider string         `json:"provider"`
	Endpoint string         `json:"endpoint"`
	Cached   bool           `json:"cached"`
	Data     map[string]any `json:"data"`

	Quota quota.Decision `json:"-"`
}

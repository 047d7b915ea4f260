package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/aman-churiwal/ioc-gateway/internal/analysis"
	"github.com/aman-churiwal/ioc-gateway/internal/indicator"
	"github.com/aman-churiwal/ioc-gateway/internal/middleware"
	"github.com/gin-gonic/gin"
)

// Implemented by analysis.Service
type Analyzer interface {
	Analyze(ctx context.Context, req analysis.Request) (*analysis.Result, error)
	Proxy(ctx context.Context, req analysis.ProxyRequest) (*analysis.ProxyResult, error)
}

type AnalysisHandler struct {
	service Analyzer
}

func NewAnalysisHandler(service Analyzer) *AnalysisHandler {
	return &AnalysisHandler{service: service}
}

type analyzeRequest struct {
	Indicator string `json:"indicator" binding:"required"`
	Type      string `json:"type"`
	// Legacy field name accepted for the indicator type
	IndicatorType    string `json:"indicator_type"`
	IncludeRaw       bool   `json:"include_raw"`
	EnhancedAnalysis bool   `json:"enhanced_analysis"`
	DeepAnalysis     bool   `json:"deep_analysis"`
}

// Handles POST /api/analyze
func (h *AnalysisHandler) Analyze(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var t indicator.Type
	if raw := firstNonEmpty(req.Type, req.IndicatorType); raw != "" {
		parsed, err := indicator.ParseType(raw)
		if err != nil {
			respondError(c, err)
			return
		}
		t = parsed
	}

	result, err := h.service.Analyze(c.Request.Context(), analysis.Request{
		Indicator:  strings.TrimSpace(req.Indicator),
		Type:       t,
		TenantID:   c.GetString(middleware.KeyTenantID),
		Tier:       middleware.TierFrom(c),
		IncludeRaw: req.IncludeRaw,
		Enhanced:   req.EnhancedAnalysis,
		Deep:       req.DeepAnalysis,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.Set(middleware.KeyIndicatorType, string(result.Type))
	c.Set(middleware.KeyCacheHit, result.Metadata.Cached)
	c.Set(middleware.KeySourcesUsed, result.Metadata.SourcesUsed)
	c.Set(middleware.KeyProcessingMs, result.Metadata.ProcessingMs)

	setQuotaHeaders(c, result.Quota)
	c.JSON(http.StatusOK, result)
}

// Handles POST /api/classify. Classification is free and spends no quota.
func (h *AnalysisHandler) Classify(c *gin.Context) {
	var req struct {
		Indicator string `json:"indicator" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	t, err := indicator.Classify(req.Indicator)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"indicator":      req.Indicator,
		"normalized":     indicator.Normalize(req.Indicator),
		"indicator_type": t,
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

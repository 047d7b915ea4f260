package handler

import (
	"encoding/json"
	"net/http"

	"github.com/aman-churiwal/ioc-gateway/internal/analysis"
	"github.com/aman-churiwal/ioc-gateway/internal/cache"
	"github.com/aman-churiwal/ioc-gateway/internal/middleware"
	"github.com/aman-churiwal/ioc-gateway/internal/provider"
	"github.com/gin-gonic/gin"
)

type ProviderHandler struct {
	service  Analyzer
	registry *provider.Registry
	cache    *cache.Cache
}

// cache may be nil when caching is disabled
func NewProviderHandler(service Analyzer, registry *provider.Registry, cache *cache.Cache) *ProviderHandler {
	return &ProviderHandler{service: service, registry: registry, cache: cache}
}

type callRequest struct {
	Endpoint   string            `json:"endpoint" binding:"required"`
	PathParams map[string]string `json:"path_params"`
	Query      map[string]string `json:"query"`
	Body       json.RawMessage   `json:"body"`
}

// Handles POST /api/providers/:provider/call
func (h *ProviderHandler) Call(c *gin.Context) {
	var req callRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var body any
	if len(req.Body) > 0 && string(req.Body) != "null" {
		body = []byte(req.Body)
	}

	result, err := h.service.Proxy(c.Request.Context(), analysis.ProxyRequest{
		TenantID:   c.GetString(middleware.KeyTenantID),
		Tier:       middleware.TierFrom(c),
		Provider:   c.Param("provider"),
		Endpoint:   req.Endpoint,
		PathParams: req.PathParams,
		Query:      req.Query,
		Body:       body,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.Set(middleware.KeyCacheHit, result.Cached)
	c.Set(middleware.KeySourcesUsed, []string{result.Provider})
	setQuotaHeaders(c, result.Quota)
	c.JSON(http.StatusOK, result)
}

// Handles GET /api/providers
func (h *ProviderHandler) Status(c *gin.Context) {
	resp := gin.H{"providers": h.registry.Status()}
	if h.cache != nil {
		resp["cache"] = h.cache.Stats()
	}
	c.JSON(http.StatusOK, resp)
}

// Handles POST /api/admin/providers/:provider/reset
func (h *ProviderHandler) ResetBreaker(c *gin.Context) {
	name := c.Param("provider")
	if !h.registry.ResetBreaker(name) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Provider not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":  "Circuit breaker reset successfully",
		"provider": name,
	})
}

package handler

import (
	"net/http"
	"time"

	"github.com/aman-churiwal/ioc-gateway/internal/healthcheck"
	"github.com/aman-churiwal/ioc-gateway/internal/provider"
	"github.com/gin-gonic/gin"
)

type HealthHandler struct {
	checker  *healthcheck.Checker
	registry *provider.Registry
	started  time.Time
}

func NewHealthHandler(checker *healthcheck.Checker, registry *provider.Registry) *HealthHandler {
	return &HealthHandler{
		checker:  checker,
		registry: registry,
		started:  time.Now(),
	}
}

// Handles GET /health. Dependency state comes from the background checker.
func (h *HealthHandler) Health(c *gin.Context) {
	checks := gin.H{}
	for _, s := range h.checker.Statuses() {
		checks[s.Name] = s.Label()
	}

	breakers := gin.H{}
	for _, s := range h.registry.Status() {
		breakers[s.Name] = gin.H{
			"configured": s.Configured,
			"state":      s.Breaker.State.String(),
		}
	}

	overall := h.checker.OverallHealth()
	code := http.StatusOK
	if overall != healthcheck.Healthy {
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":    overall.String(),
		"service":   "ioc-gateway",
		"version":   "1.0.0",
		"timestamp": time.Now().Unix(),
		"uptime":    time.Since(h.started).Seconds(),
		"checks":    checks,
		"providers": breakers,
	})
}

package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/aman-churiwal/ioc-gateway/internal/middleware"
	"github.com/aman-churiwal/ioc-gateway/internal/repository"
	"github.com/aman-churiwal/ioc-gateway/internal/service"
	"github.com/gin-gonic/gin"
)

type UsageHandler struct {
	service *service.UsageService
}

func NewUsageHandler(service *service.UsageService) *UsageHandler {
	return &UsageHandler{service: service}
}

// Handles GET /api/usage for the calling tenant
func (h *UsageHandler) Mine(c *gin.Context) {
	h.summary(c, c.GetString(middleware.KeyTenantID))
}

// Handles GET /api/admin/usage; tenant_id narrows to one tenant
func (h *UsageHandler) Summary(c *gin.Context) {
	h.summary(c, c.Query("tenant_id"))
}

func (h *UsageHandler) summary(c *gin.Context, tenantID string) {
	from, to, err := parseTimeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	summary, err := h.service.Summary(c.Request.Context(), repository.UsageFilter{TenantID: tenantID, From: from, To: to})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, summary)
}

// Handles GET /api/admin/usage/timeseries
func (h *UsageHandler) TimeSeries(c *gin.Context) {
	from, to, err := parseTimeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	series, err := h.service.TimeSeries(c.Request.Context(), repository.UsageFilter{
		TenantID: c.Query("tenant_id"),
		From:     from,
		To:       to,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, series)
}

// Handles DELETE /api/admin/usage?retention_days=30
func (h *UsageHandler) Cleanup(c *gin.Context) {
	days := 30
	if v := c.Query("retention_days"); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil || d < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "retention_days must be a positive integer"})
			return
		}
		days = d
	}

	deleted, err := h.service.Cleanup(c.Request.Context(), days)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": deleted, "retention_days": days})
}

// Parses 'from' and 'to' as RFC3339 or unix seconds. Default: last 24 hours.
func parseTimeRange(c *gin.Context) (time.Time, time.Time, error) {
	to := time.Now().UTC()
	from := to.Add(-24 * time.Hour)

	if v := c.Query("from"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = t
	}
	if v := c.Query("to"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = t
	}

	return from, to, nil
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, v)
	if err == nil {
		return t, nil
	}
	if ts, perr := strconv.ParseInt(v, 10, 64); perr == nil {
		return time.Unix(ts, 0).UTC(), nil
	}
	return time.Time{}, err
}

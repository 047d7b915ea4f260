package handler

import (
	"net/http"

	"github.com/aman-churiwal/ioc-gateway/internal/middleware"
	"github.com/aman-churiwal/ioc-gateway/internal/quota"
	"github.com/gin-gonic/gin"
)

type QuotaHandler struct {
	guard *quota.Guard
}

func NewQuotaHandler(guard *quota.Guard) *QuotaHandler {
	return &QuotaHandler{guard: guard}
}

// Handles GET /api/quota. Reading the standing spends nothing.
func (h *QuotaHandler) Usage(c *gin.Context) {
	d, err := h.guard.Usage(c.Request.Context(), c.GetString(middleware.KeyTenantID), middleware.TierFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}

	setQuotaHeaders(c, d)
	c.JSON(http.StatusOK, d)
}

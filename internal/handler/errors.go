package handler

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/aman-churiwal/ioc-gateway/internal/analysis"
	"github.com/aman-churiwal/ioc-gateway/internal/indicator"
	"github.com/aman-churiwal/ioc-gateway/internal/middleware"
	"github.com/aman-churiwal/ioc-gateway/internal/provider"
	"github.com/aman-churiwal/ioc-gateway/internal/quota"
	"github.com/gin-gonic/gin"
)

// nginx convention for a client that went away mid-request
const statusClientClosed = 499

type apiError struct {
	status int
	code   string
}

// classify maps a domain error to its HTTP status and machine readable code
func classify(err error) apiError {
	switch {
	case errors.Is(err, quota.ErrQuotaExceeded):
		return apiError{http.StatusTooManyRequests, "quota_exceeded"}
	case errors.Is(err, quota.ErrUnavailable):
		return apiError{http.StatusServiceUnavailable, "quota_unavailable"}
	case errors.Is(err, indicator.ErrUnsupported):
		return apiError{http.StatusBadRequest, "unsupported_indicator"}
	case errors.Is(err, analysis.ErrUnknownProvider):
		return apiError{http.StatusNotFound, "unknown_provider"}
	case errors.Is(err, provider.ErrUnsupportedEndpoint):
		return apiError{http.StatusBadRequest, "unsupported_endpoint"}
	case errors.Is(err, provider.ErrRateLimited):
		return apiError{http.StatusTooManyRequests, "rate_limited"}
	case errors.Is(err, provider.ErrProviderUnavailable):
		return apiError{http.StatusServiceUnavailable, "provider_unavailable"}
	case errors.Is(err, provider.ErrProviderTimeout), errors.Is(err, context.DeadlineExceeded):
		return apiError{http.StatusGatewayTimeout, "provider_timeout"}
	case errors.Is(err, provider.ErrAuthentication):
		// the gateway's upstream credentials were rejected, not the tenant's
		return apiError{http.StatusBadGateway, "authentication_error"}
	case errors.Is(err, provider.ErrProviderError):
		return apiError{http.StatusBadGateway, "provider_error"}
	case errors.Is(err, context.Canceled):
		return apiError{statusClientClosed, "cancelled"}
	}
	return apiError{http.StatusInternalServerError, "internal_error"}
}

// respondError writes the error body and the headers a client needs to back off
func respondError(c *gin.Context, err error) {
	e := classify(err)

	var qe *analysis.QuotaError
	if errors.As(err, &qe) {
		setQuotaHeaders(c, qe.Decision)
		setRetryAfter(c, time.Until(qe.Decision.ResetAt))
	}

	var pe *provider.Error
	if errors.As(err, &pe) && errors.Is(err, provider.ErrRateLimited) {
		setRetryAfter(c, pe.RetryAfter)
	}

	c.Set(middleware.KeyErrorCode, e.code)
	_ = c.Error(err)

	msg := err.Error()
	if e.status == http.StatusInternalServerError {
		msg = "Internal Server Error"
	}
	c.JSON(e.status, gin.H{
		"error":      msg,
		"code":       e.code,
		"request_id": c.GetString(middleware.KeyRequestID),
	})
}

func setQuotaHeaders(c *gin.Context, d quota.Decision) {
	c.Header("X-Quota-Limit", strconv.FormatInt(d.Limit, 10))
	c.Header("X-Quota-Remaining", strconv.FormatInt(d.Remaining, 10))
	c.Header("X-Quota-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	c.Header("X-Quota-Tier", d.Tier.String())
}

func setRetryAfter(c *gin.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	c.Header("Retry-After", strconv.Itoa(int(math.Ceil(d.Seconds()))))
}

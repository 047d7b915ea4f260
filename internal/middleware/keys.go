package middleware

// gin context keys shared with handlers
const (
	KeyRequestID = "request_id"
	KeyTenantID  = "tenant_id"
	KeyTier      = "tier"
	KeyAPIKeyID  = "api_key_id"

	// set by handlers for the usage recorder
	KeyIndicatorType = "usage_indicator_type"
	KeyErrorCode     = "usage_error_code"
	KeyCacheHit      = "usage_cache_hit"
	KeySourcesUsed   = "usage_sources"
	KeyProcessingMs  = "usage_processing_ms"
)

package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/aman-churiwal/ioc-gateway/internal/models"
	"github.com/aman-churiwal/ioc-gateway/internal/observability"
	"github.com/aman-churiwal/ioc-gateway/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Implemented by service.APIKeyService
type KeyValidator interface {
	Validate(ctx context.Context, key string) (*models.APIKey, error)
	UpdateLastUsed(ctx context.Context, id uuid.UUID)
}

// Implemented by service.TokenService
type TokenValidator interface {
	Validate(token string) (*service.Claims, error)
}

// Authenticate resolves the tenant from X-API-Key or a Bearer token and stores
// tenant id and tier in the context. Either validator may be nil.
func Authenticate(keys KeyValidator, tokens TokenValidator, logger *zap.Logger) gin.HandlerFunc {
	logger = observability.OrNop(logger)
	return func(c *gin.Context) {
		if apiKey := strings.TrimSpace(c.GetHeader("X-API-Key")); apiKey != "" && keys != nil {
			record, err := keys.Validate(c.Request.Context(), apiKey)
			if err != nil {
				logger.Error("api key validation failed", zap.Error(err))
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
					"error": "Unable to validate API key",
				})
				return
			}
			if record == nil || !record.IsActive {
				unauthorized(c, "Invalid API key")
				return
			}

			c.Set(KeyTenantID, record.ID.String())
			c.Set(KeyTier, record.Tier)
			c.Set(KeyAPIKeyID, record.ID)

			go keys.UpdateLastUsed(context.WithoutCancel(c.Request.Context()), record.ID)

			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || tokens == nil {
			unauthorized(c, "API key or bearer token required")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			unauthorized(c, "Invalid authorization header format. Use: Bearer <token>")
			return
		}

		claims, err := tokens.Validate(strings.TrimSpace(parts[1]))
		if err != nil {
			unauthorized(c, "Invalid or expired token")
			return
		}

		c.Set(KeyTenantID, claims.TenantID)
		c.Set(KeyTier, claims.Tier)
		c.Next()
	}
}

// RequireTier rejects tenants below min
func RequireTier(min models.Tier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !TierFrom(c).AtLeast(min) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Insufficient tier",
			})
			return
		}
		c.Next()
	}
}

func TierFrom(c *gin.Context) models.Tier {
	v, _ := c.Get(KeyTier)
	tier, _ := v.(models.Tier)
	return tier
}

func unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
}

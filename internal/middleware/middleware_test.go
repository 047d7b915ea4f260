package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/aman-churiwal/ioc-gateway/internal/models"
	"github.com/aman-churiwal/ioc-gateway/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubKeys struct {
	keys map[string]*models.APIKey
	err  error
}

func (s stubKeys) Validate(ctx context.Context, key string) (*models.APIKey, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.keys[key], nil
}

func (s stubKeys) UpdateLastUsed(ctx context.Context, id uuid.UUID) {}

func newAuthRouter(keys KeyValidator, tokens TokenValidator) *gin.Engine {
	r := gin.New()
	r.Use(Authenticate(keys, tokens, nil))
	r.GET("/whoami", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"tenant": c.GetString(KeyTenantID), "tier": TierFrom(c)})
	})
	r.GET("/admin", RequireTier(models.TierAdmin), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func do(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthenticateWithAPIKey(t *testing.T) {
	id := uuid.New()
	keys := stubKeys{keys: map[string]*models.APIKey{"ioc_good": {ID: id, Tier: models.TierMedium, IsActive: true}}}
	r := newAuthRouter(keys, nil)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("X-API-Key", " ioc_good ")
	w := do(r, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"tenant":"`+id.String()+`","tier":"medium"}`, w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("X-API-Key", "ioc_bad")
	assert.Equal(t, http.StatusUnauthorized, do(r, req).Code)
}

func TestAuthenticateKeyStoreDown(t *testing.T) {
	r := newAuthRouter(stubKeys{err: errors.New("db down")}, nil)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("X-API-Key", "ioc_any")
	assert.Equal(t, http.StatusServiceUnavailable, do(r, req).Code)
}

func TestAuthenticateWithBearerToken(t *testing.T) {
	tokens := service.NewTokenService("secret", time.Hour)
	token, _, err := tokens.Issue("tenant-7", models.TierAdmin)
	require.NoError(t, err)
	r := newAuthRouter(nil, tokens)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := do(r, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"tenant":"tenant-7","tier":"admin"}`, w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusNoContent, do(r, req).Code)

	for _, header := range []string{"Bearer nope", "Token " + token, token} {
		req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.Header.Set("Authorization", header)
		assert.Equal(t, http.StatusUnauthorized, do(r, req).Code, header)
	}
}

func TestAuthenticateRequiresCredentials(t *testing.T) {
	r := newAuthRouter(stubKeys{}, service.NewTokenService("secret", time.Hour))
	assert.Equal(t, http.StatusUnauthorized, do(r, httptest.NewRequest(http.MethodGet, "/whoami", nil)).Code)
}

func TestRequireTierForbidsLowerTiers(t *testing.T) {
	keys := stubKeys{keys: map[string]*models.APIKey{"ioc_plus": {ID: uuid.New(), Tier: models.TierPlus, IsActive: true}}}
	r := newAuthRouter(keys, nil)

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("X-API-Key", "ioc_plus")
	assert.Equal(t, http.StatusForbidden, do(r, req).Code)
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(KeyRequestID)) })

	w := do(r, httptest.NewRequest(http.MethodGet, "/", nil))
	generated := w.Header().Get(RequestIDHeader)
	_, err := uuid.Parse(generated)
	assert.NoError(t, err)
	assert.Equal(t, generated, w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	assert.Equal(t, "abc-123", do(r, req).Header().Get(RequestIDHeader))
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(Recovery(nil))
	r.GET("/", func(c *gin.Context) { panic("boom") })

	w := do(r, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"Internal Server Error"}`, w.Body.String())
}

func TestCORSPreflight(t *testing.T) {
	r := gin.New()
	r.Use(CORS())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := do(r, httptest.NewRequest(http.MethodOptions, "/", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

type captureWriter struct {
	mu      sync.Mutex
	batches [][]models.UsageRecord
}

func (w *captureWriter) CreateBatch(ctx context.Context, records []models.UsageRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.batches = append(w.batches, append([]models.UsageRecord(nil), records...))
	return nil
}

func (w *captureWriter) all() []models.UsageRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []models.UsageRecord
	for _, b := range w.batches {
		out = append(out, b...)
	}
	return out
}

func TestUsageRecorderMiddleware(t *testing.T) {
	writer := &captureWriter{}
	recorder := newUsageRecorder(writer, 10, time.Hour, nil)

	keyID := uuid.New()
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if c.GetHeader("X-Tenant") != "" {
			c.Set(KeyTenantID, c.GetHeader("X-Tenant"))
			c.Set(KeyTier, models.TierMedium)
			c.Set(KeyAPIKeyID, keyID)
		}
		c.Next()
	})
	r.Use(recorder.Middleware())
	r.POST("/api/analyze", func(c *gin.Context) {
		c.Set(KeyIndicatorType, "ip")
		c.Set(KeyCacheHit, true)
		c.Set(KeySourcesUsed, []string{"virustotal", "abuseipdb"})
		c.JSON(http.StatusTooManyRequests, gin.H{})
		c.Set(KeyErrorCode, "quota_exceeded")
	})

	req := httptest.NewRequest(http.MethodPost, "/api/analyze", nil)
	req.Header.Set("X-Tenant", "tenant-1")
	do(r, req)
	// anonymous requests are not recorded
	do(r, httptest.NewRequest(http.MethodPost, "/api/analyze", nil))

	require.NoError(t, recorder.Close(context.Background()))

	records := writer.all()
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, "tenant-1", rec.TenantID)
	assert.Equal(t, models.TierMedium, rec.Tier)
	assert.Equal(t, "/api/analyze", rec.Endpoint)
	assert.Equal(t, "ip", rec.IndicatorType)
	assert.Equal(t, http.StatusTooManyRequests, rec.StatusCode)
	assert.False(t, rec.Success)
	assert.Equal(t, "quota_exceeded", rec.ErrorCode)
	assert.True(t, rec.CacheHit)
	assert.Equal(t, "virustotal,abuseipdb", rec.SourcesUsed)
	require.NotNil(t, rec.APIKeyID)
	assert.Equal(t, keyID, *rec.APIKeyID)
}

func TestUsageRecorderFlushesOnClose(t *testing.T) {
	writer := &captureWriter{}
	recorder := newUsageRecorder(writer, 500, time.Hour, nil)

	for i := 0; i < 250; i++ {
		require.True(t, recorder.Record(models.UsageRecord{TenantID: "t"}))
	}
	require.NoError(t, recorder.Close(context.Background()))

	assert.Len(t, writer.all(), 250)
	for _, batch := range writer.batches {
		assert.LessOrEqual(t, len(batch), usageBatchSize)
	}
	assert.False(t, recorder.Record(models.UsageRecord{TenantID: "t"}))
	// closing twice is harmless
	assert.NoError(t, recorder.Close(context.Background()))
}

func TestUsageRecorderWriterErrorsAreSwallowed(t *testing.T) {
	recorder := newUsageRecorder(writerFunc(func(ctx context.Context, records []models.UsageRecord) error {
		return errors.New("db down")
	}), 10, time.Hour, nil)

	assert.True(t, recorder.Record(models.UsageRecord{TenantID: "t"}))
	assert.NoError(t, recorder.Close(context.Background()))
}

type writerFunc func(ctx context.Context, records []models.UsageRecord) error

func (f writerFunc) CreateBatch(ctx context.Context, records []models.UsageRecord) error {
	return f(ctx, records)
}

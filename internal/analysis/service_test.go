package analysis

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aman-churiwal/ioc-gateway/internal/cache"
	"github.com/aman-churiwal/ioc-gateway/internal/fusion"
	"github.com/aman-churiwal/ioc-gateway/internal/indicator"
	"github.com/aman-churiwal/ioc-gateway/internal/models"
	"github.com/aman-churiwal/ioc-gateway/internal/provider"
	"github.com/aman-churiwal/ioc-gateway/internal/quota"
	"github.com/aman-churiwal/ioc-gateway/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type upstream struct {
	server *httptest.Server
	hits   atomic.Int32
	mu     sync.Mutex
	paths  []string
}

func newUpstream(t *testing.T, handler http.HandlerFunc) *upstream {
	t.Helper()
	u := &upstream{}
	u.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.hits.Add(1)
		u.mu.Lock()
		u.paths = append(u.paths, r.URL.RequestURI())
		u.mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(u.server.Close)
	return u
}

func (u *upstream) Paths() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.paths...)
}

func jsonBody(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprint(w, body)
}

const vtIPReport = `{"data":{"attributes":{
  "country":"US","asn":15169,"as_owner":"GOOGLE",
  "last_analysis_stats":{"malicious":35,"suspicious":0,"harmless":20,"undetected":15},
  "last_analysis_results":{"A":{"result":"malicious","category":"malicious"},"B":{"result":"clean","category":"harmless"}},
  "tags":["scanner"]
}}}`

const vtCleanReport = `{"data":{"attributes":{
  "last_analysis_stats":{"malicious":0,"suspicious":0,"harmless":60,"undetected":10}
}}}`

func newClient(def provider.Definition, baseURL, apiKey string) *provider.Client {
	def.BaseURL = baseURL
	return provider.NewClient(provider.Options{
		Definition: def,
		APIKey:     apiKey,
		Limiter:    ratelimit.NewLeakyBucket(ratelimit.Config{PerMinute: 1000, PerDay: 100000}),
		Sleep:      func(ctx context.Context, d time.Duration) error { return ctx.Err() },
	})
}

type harness struct {
	service *Service
	guard   *quota.Guard
	cache   *cache.Cache
	vt      *upstream
	abuse   *upstream
}

type harnessOptions struct {
	vt       http.HandlerFunc
	abuse    http.HandlerFunc
	vtKey    string
	abuseKey string
	limits   map[models.Tier]int64
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()

	if opts.vt == nil {
		opts.vt = func(w http.ResponseWriter, r *http.Request) { jsonBody(w, http.StatusOK, vtIPReport) }
	}
	if opts.abuse == nil {
		opts.abuse = func(w http.ResponseWriter, r *http.Request) {
			jsonBody(w, http.StatusOK, `{"data":{"abuseConfidenceScore":100,"countryCode":"US","isp":"Google LLC"}}`)
		}
	}
	if opts.vtKey == "" {
		opts.vtKey = "vt-key"
	}

	vt := newUpstream(t, opts.vt)
	abuse := newUpstream(t, opts.abuse)

	registry := provider.NewRegistry(
		newClient(provider.VirusTotalDefinition(), vt.server.URL, opts.vtKey),
		newClient(provider.AbuseIPDBDefinition(), abuse.server.URL, opts.abuseKey),
		newClient(provider.URLScanDefinition(), "http://127.0.0.1:1", ""),
	)

	guard := quota.NewGuard(quota.NewMemoryCounter(nil), quota.Options{Limits: opts.limits})
	c := cache.New(cache.NewMemoryBackend(0), cache.Options{})

	return &harness{
		service: NewService(Options{
			Registry: registry,
			Guard:    guard,
			Cache:    c,
			Timeout:  10 * time.Second,
		}),
		guard: guard,
		cache: c,
		vt:    vt,
		abuse: abuse,
	}
}

func TestAnalyzeIP(t *testing.T) {
	h := newHarness(t, harnessOptions{abuseKey: "abuse-key"})

	res, err := h.service.Analyze(context.Background(), Request{
		Indicator: "8.8.8.8",
		TenantID:  "tenant-1",
		Tier:      models.TierFree,
	})
	require.NoError(t, err)

	assert.Equal(t, indicator.TypeIP, res.Type)
	assert.Equal(t, StatusCompleted, res.Status)
	// VT 35/70 -> 1.0 * 0.7, AbuseIPDB 1.0 * 0.3
	assert.InDelta(t, 1.0, res.ThreatScore.OverallScore, 1e-9)
	assert.Equal(t, fusion.LevelCritical, res.ThreatScore.Level)
	assert.Equal(t, []string{provider.VirusTotal, provider.AbuseIPDB}, res.Metadata.SourcesUsed)
	assert.False(t, res.Metadata.Cached)
	assert.NotEmpty(t, res.Metadata.AnalysisID)
	assert.Equal(t, "1/2", res.DetectionRatio)
	assert.Equal(t, "malicious", res.Reputation)
	assert.Equal(t, []string{"scanner"}, res.Tags)
	assert.Equal(t, "Google LLC", res.Geolocation["isp"])
	assert.Nil(t, res.RawResponses)

	assert.Equal(t, int64(1), res.Quota.Used)
	assert.Equal(t, int64(19), res.Quota.Remaining)

	assert.Equal(t, []string{"/ip_addresses/8.8.8.8"}, h.vt.Paths())
	assert.Equal(t, []string{"/check?ipAddress=8.8.8.8&maxAgeInDays=90"}, h.abuse.Paths())
}

func TestQuotaExhaustedMakesNoProviderCalls(t *testing.T) {
	h := newHarness(t, harnessOptions{abuseKey: "abuse-key"})
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		_, err := h.guard.CheckAndIncrement(ctx, "tenant-1", models.TierFree)
		require.NoError(t, err)
	}

	res, err := h.service.Analyze(ctx, Request{Indicator: "8.8.8.8", TenantID: "tenant-1", Tier: models.TierFree})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, quota.ErrQuotaExceeded)

	var qe *QuotaError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, int64(20), qe.Decision.Limit)
	assert.Equal(t, int64(0), qe.Decision.Remaining)

	assert.Equal(t, int32(0), h.vt.hits.Load())
	assert.Equal(t, int32(0), h.abuse.hits.Load())
}

func TestSecondaryFailureDegrades(t *testing.T) {
	h := newHarness(t, harnessOptions{
		abuseKey: "abuse-key",
		abuse:    func(w http.ResponseWriter, r *http.Request) { jsonBody(w, http.StatusBadGateway, `{}`) },
	})

	res, err := h.service.Analyze(context.Background(), Request{Indicator: "8.8.8.8", TenantID: "t", Tier: models.TierFree})
	require.NoError(t, err)

	assert.Equal(t, StatusPartial, res.Status)
	assert.Equal(t, 0.0, res.ThreatScore.Factors[provider.AbuseIPDB])
	assert.InDelta(t, 0.7, res.ThreatScore.OverallScore, 1e-9)
	assert.Equal(t, []string{provider.VirusTotal}, res.Metadata.SourcesUsed)
	// transient policy makes three attempts
	assert.Equal(t, int32(3), h.abuse.hits.Load())
}

func TestPrimaryFailureIsReturned(t *testing.T) {
	h := newHarness(t, harnessOptions{
		vt: func(w http.ResponseWriter, r *http.Request) {
			jsonBody(w, http.StatusNotFound, `{"error":{"code":"NotFoundError"}}`)
		},
	})

	_, err := h.service.Analyze(context.Background(), Request{Indicator: "example.com", TenantID: "t", Tier: models.TierFree})
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrProviderError)

	// the quota unit was still spent
	d, err := h.guard.Usage(context.Background(), "t", models.TierFree)
	require.NoError(t, err)
	assert.Equal(t, int64(1), d.Used)
}

func TestUpstreamCredentialFailure(t *testing.T) {
	h := newHarness(t, harnessOptions{
		vt: func(w http.ResponseWriter, r *http.Request) { jsonBody(w, http.StatusUnauthorized, `{}`) },
	})

	_, err := h.service.Analyze(context.Background(), Request{Indicator: "example.com", TenantID: "t", Tier: models.TierFree})
	assert.ErrorIs(t, err, provider.ErrAuthentication)
	assert.Equal(t, int32(1), h.vt.hits.Load())
}

func TestRepeatAnalysisServedFromCache(t *testing.T) {
	h := newHarness(t, harnessOptions{
		vt: func(w http.ResponseWriter, r *http.Request) { jsonBody(w, http.StatusOK, vtCleanReport) },
	})
	ctx := context.Background()

	first, err := h.service.Analyze(ctx, Request{Indicator: "example.com", TenantID: "t", Tier: models.TierFree})
	require.NoError(t, err)
	assert.False(t, first.Metadata.Cached)

	second, err := h.service.Analyze(ctx, Request{Indicator: "EXAMPLE.com ", TenantID: "t", Tier: models.TierFree})
	require.NoError(t, err)
	assert.True(t, second.Metadata.Cached)
	assert.Equal(t, first.ThreatScore, second.ThreatScore)

	assert.Equal(t, int32(1), h.vt.hits.Load())
	// cache hits still spend quota
	assert.Equal(t, int64(2), second.Quota.Used)
	assert.Equal(t, int64(1), h.cache.Stats().Hits)
}

func TestRoutingByIndicatorType(t *testing.T) {
	h := newHarness(t, harnessOptions{
		vt: func(w http.ResponseWriter, r *http.Request) { jsonBody(w, http.StatusOK, vtCleanReport) },
	})
	ctx := context.Background()

	cases := []struct {
		value string
		typ   indicator.Type
		path  string
	}{
		{"example.com", indicator.TypeDomain, "/domains/example.com"},
		{"http://example.com/Path", indicator.TypeURL, "/urls/" + indicator.URLID("http://example.com/Path")},
		{"d41d8cd98f00b204e9800998ecf8427e", indicator.TypeHash, "/files/d41d8cd98f00b204e9800998ecf8427e"},
		{"alice@mail.example.org", indicator.TypeEmail, "/domains/mail.example.org"},
	}

	for i, tc := range cases {
		res, err := h.service.Analyze(ctx, Request{Indicator: tc.value, TenantID: "t", Tier: models.TierAdmin})
		require.NoError(t, err, tc.value)
		assert.Equal(t, tc.typ, res.Type)
		assert.Nil(t, res.Geolocation)
		assert.Equal(t, tc.path, h.vt.Paths()[i])
	}
	// abuseipdb has no key and is never consulted
	assert.Equal(t, int32(0), h.abuse.hits.Load())
}

func TestUnsupportedIndicatorSpendsNothing(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	_, err := h.service.Analyze(context.Background(), Request{Indicator: "not an indicator", TenantID: "t", Tier: models.TierFree})
	assert.ErrorIs(t, err, indicator.ErrUnsupported)

	d, err := h.guard.Usage(context.Background(), "t", models.TierFree)
	require.NoError(t, err)
	assert.Equal(t, int64(0), d.Used)
	assert.Equal(t, int32(0), h.vt.hits.Load())
}

func TestSuppliedTypeMustMatchIndicator(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	for _, req := range []Request{
		{Indicator: "..", Type: indicator.TypeIP},
		{Indicator: "example.com", Type: indicator.TypeIP},
		{Indicator: "8.8.8.8", Type: indicator.TypeHash},
	} {
		req.TenantID, req.Tier = "t", models.TierFree
		_, err := h.service.Analyze(ctx, req)
		assert.ErrorIs(t, err, indicator.ErrUnsupported, req.Indicator)
	}

	d, err := h.guard.Usage(ctx, "t", models.TierFree)
	require.NoError(t, err)
	assert.Equal(t, int64(0), d.Used)
	assert.Equal(t, int32(0), h.vt.hits.Load())

	res, err := h.service.Analyze(ctx, Request{Indicator: "8.8.8.8", Type: indicator.TypeIP, TenantID: "t", Tier: models.TierFree})
	require.NoError(t, err)
	assert.Equal(t, indicator.TypeIP, res.Type)
}

func TestPrimaryNotConfigured(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.service.registry = provider.NewRegistry(newClient(provider.VirusTotalDefinition(), h.vt.server.URL, ""))

	_, err := h.service.Analyze(context.Background(), Request{Indicator: "example.com", TenantID: "t", Tier: models.TierFree})
	assert.ErrorIs(t, err, provider.ErrProviderUnavailable)
}

func TestEnrichmentAndRawResponses(t *testing.T) {
	h := newHarness(t, harnessOptions{
		vt: func(w http.ResponseWriter, r *http.Request) { jsonBody(w, http.StatusOK, vtCleanReport) },
	})

	res, err := h.service.Analyze(context.Background(), Request{
		Indicator:  "example.com",
		TenantID:   "t",
		Tier:       models.TierPlus,
		IncludeRaw: true,
		Enhanced:   true,
		Deep:       true,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{provider.VirusTotal, fusion.SourceDeepAnalysis, fusion.SourceEnhancedIntel}, res.Metadata.SourcesUsed)
	assert.Contains(t, res.ThreatScore.Factors, fusion.SourceEnhancedIntel)
	assert.Equal(t, 0.0, res.ThreatScore.OverallScore)
	require.Len(t, res.RawResponses, 3)
	assert.Equal(t, "placeholder", res.RawResponses[fusion.SourceDeepAnalysis]["status"])
}

func TestEnrichmentGatedByTier(t *testing.T) {
	h := newHarness(t, harnessOptions{
		vt: func(w http.ResponseWriter, r *http.Request) { jsonBody(w, http.StatusOK, vtCleanReport) },
	})

	res, err := h.service.Analyze(context.Background(), Request{
		Indicator: "example.com", TenantID: "t", Tier: models.TierFree, Enhanced: true, Deep: true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{provider.VirusTotal}, res.Metadata.SourcesUsed)
}

func TestProxy(t *testing.T) {
	h := newHarness(t, harnessOptions{
		vt: func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost {
				jsonBody(w, http.StatusOK, `{"data":{"id":"analysis-1"}}`)
				return
			}
			jsonBody(w, http.StatusOK, `{"data":{"id":"`+r.URL.Path+`"}}`)
		},
	})
	ctx := context.Background()

	req := ProxyRequest{
		TenantID:   "t",
		Tier:       models.TierMedium,
		Provider:   provider.VirusTotal,
		Endpoint:   "get_analysis",
		PathParams: map[string]string{"analysis_id": "abc"},
	}

	first, err := h.service.Proxy(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, map[string]any{"id": "/analyses/abc"}, first.Data["data"])

	second, err := h.service.Proxy(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, int64(2), second.Quota.Used)

	// writes are never cached
	scan := ProxyRequest{TenantID: "t", Tier: models.TierMedium, Provider: provider.VirusTotal, Endpoint: "scan_url",
		Body: map[string]string{"url": "http://example.com"}}
	for i := 0; i < 2; i++ {
		res, err := h.service.Proxy(ctx, scan)
		require.NoError(t, err)
		assert.False(t, res.Cached)
	}
	assert.Equal(t, int32(3), h.vt.hits.Load())
}

func TestProxyRejectsBeforeSpending(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	_, err := h.service.Proxy(ctx, ProxyRequest{TenantID: "t", Tier: models.TierFree, Provider: "shodan", Endpoint: "host"})
	assert.ErrorIs(t, err, ErrUnknownProvider)

	_, err = h.service.Proxy(ctx, ProxyRequest{TenantID: "t", Tier: models.TierFree, Provider: provider.VirusTotal, Endpoint: "delete_everything"})
	assert.ErrorIs(t, err, provider.ErrUnsupportedEndpoint)

	_, err = h.service.Proxy(ctx, ProxyRequest{TenantID: "t", Tier: models.TierFree, Provider: provider.URLScan, Endpoint: "get_result",
		PathParams: map[string]string{"scan_id": "x"}})
	assert.ErrorIs(t, err, provider.ErrProviderUnavailable)

	d, err := h.guard.Usage(ctx, "t", models.TierFree)
	require.NoError(t, err)
	assert.Equal(t, int64(0), d.Used)
}

func TestQuotaCounterFailureFailsClosed(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.service.guard = quota.NewGuard(brokenCounter{}, quota.Options{})

	_, err := h.service.Analyze(context.Background(), Request{Indicator: "example.com", TenantID: "t", Tier: models.TierFree})
	require.Error(t, err)
	assert.NotErrorIs(t, err, quota.ErrQuotaExceeded)
	assert.Equal(t, int32(0), h.vt.hits.Load())
}

type brokenCounter struct{}

func (brokenCounter) IncrWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return 0, errors.New("redis: connection refused")
}

func (brokenCounter) Get(ctx context.Context, key string) (int64, error) {
	return 0, errors.New("redis: connection refused")
}

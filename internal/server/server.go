package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/aman-churiwal/ioc-gateway/internal/cache"
	"github.com/aman-churiwal/ioc-gateway/internal/config"
	"github.com/aman-churiwal/ioc-gateway/internal/handler"
	"github.com/aman-churiwal/ioc-gateway/internal/healthcheck"
	"github.com/aman-churiwal/ioc-gateway/internal/middleware"
	"github.com/aman-churiwal/ioc-gateway/internal/models"
	"github.com/aman-churiwal/ioc-gateway/internal/observability"
	"github.com/aman-churiwal/ioc-gateway/internal/provider"
	"github.com/aman-churiwal/ioc-gateway/internal/quota"
	"github.com/aman-churiwal/ioc-gateway/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Dependencies are built in main. The optional ones are nil when their
// backing store is not configured and their routes are then not mounted.
type Dependencies struct {
	Analyzer handler.Analyzer
	Registry *provider.Registry
	Guard    *quota.Guard
	Checker  *healthcheck.Checker
	Cache    *cache.Cache // optional

	Keys     *service.APIKeyService    // optional, needs Postgres
	Tokens   *service.TokenService     // optional, needs a JWT secret
	Usage    *service.UsageService     // optional, needs Postgres
	Recorder *middleware.UsageRecorder // optional, needs Postgres
}

type Server struct {
	router     *gin.Engine
	config     *config.Config
	deps       Dependencies
	logger     *zap.Logger
	httpServer *http.Server
}

func New(cfg *config.Config, deps Dependencies, logger *zap.Logger) *Server {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		router: gin.New(),
		config: cfg,
		deps:   deps,
		logger: observability.OrNop(logger),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery(s.logger))
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(middleware.CORS())
}

func (s *Server) setupRoutes() {
	d := s.deps

	health := handler.NewHealthHandler(d.Checker, d.Registry)
	s.router.GET("/health", health.Health)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	analysisHandler := handler.NewAnalysisHandler(d.Analyzer)
	providerHandler := handler.NewProviderHandler(d.Analyzer, d.Registry, d.Cache)
	quotaHandler := handler.NewQuotaHandler(d.Guard)

	api := s.router.Group("/api")
	api.Use(middleware.Authenticate(s.keyValidator(), s.tokenValidator(), s.logger))
	if d.Recorder != nil {
		api.Use(d.Recorder.Middleware())
	}
	{
		api.POST("/analyze", analysisHandler.Analyze)
		api.POST("/classify", analysisHandler.Classify)
		api.GET("/providers", providerHandler.Status)
		api.POST("/providers/:provider/call", providerHandler.Call)
		api.GET("/quota", quotaHandler.Usage)
	}

	admin := api.Group("/admin")
	admin.Use(middleware.RequireTier(models.TierAdmin))
	{
		admin.GET("/status", s.adminStatus)
		admin.POST("/providers/:provider/reset", providerHandler.ResetBreaker)
	}

	apiKeyHandler := handler.NewAPIKeyHandler(d.Keys, d.Tokens)
	if d.Keys != nil {
		admin.POST("/keys", apiKeyHandler.Create)
		admin.GET("/keys", apiKeyHandler.List)
		admin.GET("/keys/:id", apiKeyHandler.Get)
		admin.PATCH("/keys/:id", apiKeyHandler.Update)
		admin.DELETE("/keys/:id", apiKeyHandler.Delete)
	}
	if d.Tokens != nil {
		admin.POST("/tokens", apiKeyHandler.IssueToken)
	}

	if d.Usage != nil {
		usageHandler := handler.NewUsageHandler(d.Usage)
		api.GET("/usage", usageHandler.Mine)
		admin.GET("/usage", usageHandler.Summary)
		admin.GET("/usage/timeseries", usageHandler.TimeSeries)
		admin.DELETE("/usage", usageHandler.Cleanup)
	}
}

// A nil *APIKeyService must not become a non-nil interface
func (s *Server) keyValidator() middleware.KeyValidator {
	if s.deps.Keys == nil {
		return nil
	}
	return s.deps.Keys
}

func (s *Server) tokenValidator() middleware.TokenValidator {
	if s.deps.Tokens == nil {
		return nil
	}
	return s.deps.Tokens
}

func (s *Server) adminStatus(c *gin.Context) {
	resp := gin.H{
		"gateway":     "running",
		"environment": s.config.Server.Environment,
		"providers":   s.deps.Registry.Status(),
		"health":      s.deps.Checker.OverallHealth().String(),
		"uptime":      time.Since(startTime).Seconds(),
		"timestamp":   time.Now().Unix(),
	}

	if s.deps.Keys != nil {
		counts, err := s.deps.Keys.CountByTier(c.Request.Context())
		if err != nil {
			s.logger.Warn("failed to count api keys", zap.Error(err))
		} else {
			resp["active_keys_by_tier"] = counts
		}
	}
	if s.deps.Cache != nil {
		resp["cache"] = s.deps.Cache.Stats()
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) Run(addr string) error {
	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		// analyses wait on rate-limited providers
		WriteTimeout: s.config.Analysis.Timeout.Duration + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting ioc gateway",
		zap.String("addr", addr),
		zap.String("environment", s.config.Server.Environment))

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, then flushes buffered usage records
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	if s.deps.Recorder != nil {
		err = errors.Join(err, s.deps.Recorder.Close(ctx))
	}
	if s.deps.Checker != nil {
		s.deps.Checker.Stop()
	}

	return err
}

func (s *Server) Handler() http.Handler {
	return s.router
}

var startTime = time.Now()

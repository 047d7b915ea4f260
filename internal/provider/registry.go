package provider

import (
	"sort"
	"time"

	"github.com/aman-churiwal/ioc-gateway/internal/circuitbreaker"
	"github.com/aman-churiwal/ioc-gateway/internal/config"
	"github.com/aman-churiwal/ioc-gateway/internal/metrics"
	"github.com/aman-churiwal/ioc-gateway/internal/ratelimit"
	"go.uber.org/zap"
)

// Registry owns one client, and therefore one limiter and breaker, per provider
type Registry struct {
	clients map[string]*Client
}

type Status struct {
	Name       string                 `json:"name"`
	Configured bool                   `json:"configured"`
	Endpoints  []string               `json:"endpoints"`
	Breaker    circuitbreaker.Metrics `json:"breaker"`
	Limiter    ratelimit.Snapshot     `json:"limiter"`
}

func NewRegistry(clients ...*Client) *Registry {
	r := &Registry{clients: make(map[string]*Client, len(clients))}
	for _, c := range clients {
		r.clients[c.Name()] = c
	}
	return r
}

// Builds clients for every shipped provider from configuration
func NewRegistryFromConfig(cfg map[string]config.ProviderConfig, logger *zap.Logger) *Registry {
	defs := Definitions()
	clients := make([]*Client, 0, len(defs))

	for name, def := range defs {
		pc := cfg[name]
		if pc.BaseURL != "" {
			def.BaseURL = pc.BaseURL
		}

		gauge := metrics.BreakerState.WithLabelValues(name)
		gauge.Set(float64(circuitbreaker.StateClosed))
		breaker := circuitbreaker.New(circuitbreaker.Config{
			MaxFailures: pc.Breaker.MaxFailures,
			Cooldown:    pc.Breaker.Cooldown.Duration,
			OnStateChange: func(from, to circuitbreaker.State) {
				gauge.Set(float64(to))
				if logger != nil {
					logger.Warn("circuit breaker state change",
						zap.String("provider", name),
						zap.String("from", from.String()),
						zap.String("to", to.String()))
				}
			},
		})

		waits := metrics.LimiterWaits.WithLabelValues(name)
		limiter := ratelimit.NewLeakyBucket(ratelimit.Config{
			PerMinute: pc.PerMinute,
			PerDay:    pc.PerDay,
			OnWait: func(d time.Duration) {
				waits.Inc()
			},
		})

		clients = append(clients, NewClient(Options{
			Definition: def,
			APIKey:     pc.APIKey,
			Limiter:    limiter,
			Breaker:    breaker,
			Policies:   policiesFromConfig(pc.Retry),
			Timeout:    pc.Timeout.Duration,
			Logger:     logger,
		}))
	}

	return NewRegistry(clients...)
}

func policiesFromConfig(rc config.RetryConfig) Policies {
	p := DefaultPolicies()
	if rc.RateLimitAttempts > 0 {
		p.RateLimited.MaxAttempts = rc.RateLimitAttempts
	}
	if rc.RateLimitBase.Duration > 0 {
		p.RateLimited.BaseDelay = rc.RateLimitBase.Duration
	}
	if rc.RateLimitMax.Duration > 0 {
		p.RateLimited.MaxDelay = rc.RateLimitMax.Duration
	}
	if rc.ServerAttempts > 0 {
		p.Transient.MaxAttempts = rc.ServerAttempts
	}
	if rc.ServerBase.Duration > 0 {
		p.Transient.BaseDelay = rc.ServerBase.Duration
	}
	return p
}

func (r *Registry) Get(name string) (*Client, bool) {
	c, ok := r.clients[name]
	return c, ok
}

// Configured reports whether the provider exists and has credentials
func (r *Registry) Configured(name string) bool {
	c, ok := r.clients[name]
	return ok && c.Configured()
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Status() []Status {
	statuses := make([]Status, 0, len(r.clients))
	for _, name := range r.Names() {
		c := r.clients[name]
		statuses = append(statuses, Status{
			Name:       name,
			Configured: c.Configured(),
			Endpoints:  c.Catalog().Names(),
			Breaker:    c.Breaker().Metrics(),
			Limiter:    c.Limiter().Snapshot(),
		})
	}
	return statuses
}

// ResetBreaker manually closes a provider's circuit
func (r *Registry) ResetBreaker(name string) bool {
	c, ok := r.clients[name]
	if !ok {
		return false
	}
	c.Breaker().Reset()
	return true
}

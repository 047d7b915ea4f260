package healthcheck

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aman-churiwal/ioc-gateway/internal/observability"
	"go.uber.org/zap"
)

// Pinger is a dependency that can be pinged, such as Redis or Postgres
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker pings the gateway's backing stores in the background so the
// health endpoint never blocks on a slow dependency
type Checker struct {
	mu          sync.RWMutex
	checks      map[string]Pinger
	status      map[string]*Status
	interval    time.Duration
	timeout     time.Duration
	maxFailures int
	now         func() time.Time
	logger      *zap.Logger
	stopChan    chan struct{}
	running     bool
}

// Holds health checker configuration
type Config struct {
	Checks      map[string]Pinger // a nil Pinger is reported as disabled
	Interval    time.Duration     // How often to check (default: 10s)
	Timeout     time.Duration     // Per ping timeout (default: 2s)
	MaxFailures int               // Failures before marking unhealthy (default: 2)
	Clock       func() time.Time
	Logger      *zap.Logger
}

func NewChecker(cfg Config) *Checker {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 2
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	c := &Checker{
		checks:      make(map[string]Pinger, len(cfg.Checks)),
		status:      make(map[string]*Status, len(cfg.Checks)),
		interval:    cfg.Interval,
		timeout:     cfg.Timeout,
		maxFailures: cfg.MaxFailures,
		now:         cfg.Clock,
		logger:      observability.OrNop(cfg.Logger),
		stopChan:    make(chan struct{}),
	}

	// Assume healthy until proven otherwise
	for name, p := range cfg.Checks {
		c.checks[name] = p
		c.status[name] = &Status{Name: name, Disabled: p == nil, IsHealthy: true}
	}

	return c
}

// Begins periodic checks. The first round runs before Start returns.
func (c *Checker) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.mu.Unlock()

	c.logger.Info("starting dependency health checks",
		zap.Int("checks", len(c.checks)),
		zap.Duration("interval", c.interval))

	c.CheckNow(ctx)

	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.CheckNow(ctx)
			case <-ctx.Done():
				return
			case <-c.stopChan:
				return
			}
		}
	}()
}

func (c *Checker) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		close(c.stopChan)
		c.running = false
		c.logger.Info("health checker stopped")
	}
}

// CheckNow pings every enabled dependency concurrently and waits for all of them
func (c *Checker) CheckNow(ctx context.Context) {
	var wg sync.WaitGroup

	for name, p := range c.checks {
		if p == nil {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.ping(ctx, name, p)
		}()
	}

	wg.Wait()
}

func (c *Checker) ping(ctx context.Context, name string, p Pinger) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := p.Ping(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	status := c.status[name]
	now := c.now()
	status.LastCheck = now

	if err == nil {
		status.LastSuccess = now
		status.FailureCount = 0
		status.LastError = ""
		if !status.IsHealthy {
			c.logger.Info("dependency recovered", zap.String("check", name))
			status.IsHealthy = true
		}
		return
	}

	status.LastFailure = now
	status.FailureCount++
	status.LastError = err.Error()
	if status.IsHealthy && status.FailureCount >= c.maxFailures {
		c.logger.Warn("dependency is unhealthy",
			zap.String("check", name),
			zap.Int("failures", status.FailureCount),
			zap.Error(err))
		status.IsHealthy = false
	}
}

// Returns copies of every dependency's status, sorted by name
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Status, 0, len(c.status))
	for _, s := range c.status {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (c *Checker) GetStatus(name string) (Status, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.status[name]
	if !ok {
		return Status{}, false
	}
	return *s, true
}

// Returns the overall health of the enabled dependencies
func (c *Checker) OverallHealth() HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	enabled, healthy := 0, 0
	for _, s := range c.status {
		if s.Disabled {
			continue
		}
		enabled++
		if s.IsHealthy {
			healthy++
		}
	}

	switch {
	case healthy == enabled:
		return Healthy
	case healthy == 0:
		return Unhealthy
	default:
		return Degraded
	}
}

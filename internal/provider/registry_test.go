package provider

import (
	"testing"
	"time"

	"github.com/aman-churiwal/ioc-gateway/internal/circuitbreaker"
	"github.com/aman-churiwal/ioc-gateway/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryFromConfig(t *testing.T) {
	registry := NewRegistryFromConfig(map[string]config.ProviderConfig{
		VirusTotal: {
			APIKey:    "vt",
			PerMinute: 4,
			PerDay:    500,
			Breaker:   config.BreakerConfig{MaxFailures: 2, Cooldown: config.Duration{Duration: time.Minute}},
		},
		AbuseIPDB: {PerMinute: 30, PerDay: 1000},
	}, nil)

	assert.Equal(t, []string{AbuseIPDB, URLScan, VirusTotal}, registry.Names())
	assert.True(t, registry.Configured(VirusTotal))
	assert.False(t, registry.Configured(AbuseIPDB))
	assert.False(t, registry.Configured("shodan"))

	vt, ok := registry.Get(VirusTotal)
	require.True(t, ok)
	vt.Breaker().Failure()
	vt.Breaker().Failure()
	assert.Equal(t, circuitbreaker.StateOpen, vt.Breaker().State())

	statuses := registry.Status()
	require.Len(t, statuses, 3)
	assert.Equal(t, VirusTotal, statuses[2].Name)
	assert.Equal(t, circuitbreaker.StateOpen, statuses[2].Breaker.State)
	assert.Equal(t, 4, statuses[2].Limiter.PerMinute)

	assert.True(t, registry.ResetBreaker(VirusTotal))
	assert.Equal(t, circuitbreaker.StateClosed, vt.Breaker().State())
	assert.False(t, registry.ResetBreaker("shodan"))
}

func TestPoliciesFromConfig(t *testing.T) {
	p := policiesFromConfig(config.RetryConfig{RateLimitAttempts: 5, ServerBase: config.Duration{Duration: 250 * time.Millisecond}})
	assert.Equal(t, 5, p.RateLimited.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, p.Transient.BaseDelay)
	assert.Equal(t, 3, p.Transient.MaxAttempts)
}

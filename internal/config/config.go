package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig              `json:"server"`
	Redis     RedisConfig               `json:"redis"`
	Database  DatabaseConfig            `json:"database"`
	Auth      AuthConfig                `json:"auth"`
	Quota     QuotaConfig               `json:"quota"`
	Cache     CacheConfig               `json:"cache"`
	Analysis  AnalysisConfig            `json:"analysis"`
	Providers map[string]ProviderConfig `json:"providers"`
}

type ServerConfig struct {
	Port        string `json:"port"`
	Environment string `json:"environment"`
	LogLevel    string `json:"log_level"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

func (r RedisConfig) GetRedisAddr() string {
	return r.Host + ":" + r.Port
}

type DatabaseConfig struct {
	DSN       string `json:"dsn"`
	LogBuffer int    `json:"log_buffer"`
}

type AuthConfig struct {
	JWTSecret string   `json:"jwt_secret"`
	TokenTTL  Duration `json:"token_ttl"`
}

// Daily per-tenant call caps keyed by tier name
type QuotaConfig struct {
	Tiers map[string]int `json:"tiers"`
}

type CacheConfig struct {
	Backend string   `json:"backend"` // "redis" or "memory"
	TTL     Duration `json:"ttl"`
}

type AnalysisConfig struct {
	Timeout Duration `json:"timeout"`
}

type ProviderConfig struct {
	BaseURL   string        `json:"base_url"`
	APIKey    string        `json:"api_key"`
	PerMinute int           `json:"per_minute"`
	PerDay    int           `json:"per_day"`
	Timeout   Duration      `json:"timeout"`
	Breaker   BreakerConfig `json:"breaker"`
	Retry     RetryConfig   `json:"retry"`
	// Overrides the fusion weight of this source when set
	Weight *float64 `json:"weight,omitempty"`
}

type BreakerConfig struct {
	MaxFailures int      `json:"max_failures"`
	Cooldown    Duration `json:"cooldown"`
}

type RetryConfig struct {
	RateLimitAttempts int      `json:"rate_limit_attempts"`
	RateLimitBase     Duration `json:"rate_limit_base"`
	RateLimitMax      Duration `json:"rate_limit_max"`
	ServerAttempts    int      `json:"server_attempts"`
	ServerBase        Duration `json:"server_base"`
}

// Duration decodes "30s" style strings as well as integer nanoseconds
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		d.Duration = parsed
		return nil
	}

	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("invalid duration: %s", string(b))
	}
	d.Duration = time.Duration(n)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Reads the JSON config at path. A missing file is not an error: defaults and
// environment variables are enough to boot.
func Load(path string) (*Config, error) {
	var config Config

	file, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(file, &config); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	config.applyEnv()
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) applyEnv() {
	setString(&c.Server.Port, "PORT")
	setString(&c.Server.Environment, "ENVIRONMENT")
	setString(&c.Server.LogLevel, "LOG_LEVEL")
	setString(&c.Redis.Host, "REDIS_HOST")
	setString(&c.Redis.Port, "REDIS_PORT")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		if host, port, ok := strings.Cut(addr, ":"); ok {
			c.Redis.Host, c.Redis.Port = host, port
		}
	}
	setString(&c.Database.DSN, "DATABASE_URL")
	setString(&c.Auth.JWTSecret, "JWT_SECRET")
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.Redis.DB = db
		}
	}

	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig)
	}
	for name, env := range map[string]string{
		"virustotal": "VIRUSTOTAL_API_KEY",
		"abuseipdb":  "ABUSEIPDB_API_KEY",
		"urlscan":    "URLSCAN_API_KEY",
	} {
		if key := os.Getenv(env); key != "" {
			p := c.Providers[name]
			p.APIKey = key
			c.Providers[name] = p
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.Environment == "" {
		c.Server.Environment = "development"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Redis.Host == "" {
		c.Redis.Host = "localhost"
	}
	if c.Redis.Port == "" {
		c.Redis.Port = "6379"
	}
	if c.Auth.TokenTTL.Duration <= 0 {
		c.Auth.TokenTTL.Duration = 24 * time.Hour
	}
	if c.Database.LogBuffer <= 0 {
		c.Database.LogBuffer = 1000
	}
	// a partial tier map only overrides the tiers it names
	tiers := make(map[string]int, len(tierOrder))
	for name, limit := range c.Quota.Tiers {
		tiers[strings.ToLower(strings.TrimSpace(name))] = limit
	}
	for name, limit := range defaultTierLimits() {
		if _, ok := tiers[name]; !ok {
			tiers[name] = limit
		}
	}
	c.Quota.Tiers = tiers
	if c.Cache.Backend == "" {
		c.Cache.Backend = "redis"
	}
	if c.Cache.TTL.Duration <= 0 {
		c.Cache.TTL.Duration = time.Hour
	}
	if c.Analysis.Timeout.Duration <= 0 {
		c.Analysis.Timeout.Duration = 2 * time.Minute
	}

	for name, defaults := range defaultProviders() {
		p, ok := c.Providers[name]
		if !ok {
			c.Providers[name] = defaults
			continue
		}
		if p.BaseURL == "" {
			p.BaseURL = defaults.BaseURL
		}
		if p.PerMinute == 0 {
			p.PerMinute = defaults.PerMinute
		}
		if p.PerDay == 0 {
			p.PerDay = defaults.PerDay
		}
		if p.Timeout.Duration == 0 {
			p.Timeout = defaults.Timeout
		}
		c.Providers[name] = p
	}
}

// Tiers from lowest to highest; caps must strictly increase along this order
var tierOrder = []string{"free", "medium", "plus", "admin"}

func defaultTierLimits() map[string]int {
	return map[string]int{
		"free":   20,
		"medium": 500,
		"plus":   2000,
		"admin":  10000,
	}
}

func defaultProviders() map[string]ProviderConfig {
	return map[string]ProviderConfig{
		"virustotal": {
			BaseURL:   "https://www.virustotal.com/api/v3",
			PerMinute: 4,
			PerDay:    500,
			Timeout:   Duration{30 * time.Second},
		},
		"abuseipdb": {
			BaseURL:   "https://api.abuseipdb.com/api/v2",
			PerMinute: 30,
			PerDay:    1000,
			Timeout:   Duration{15 * time.Second},
		},
		"urlscan": {
			BaseURL:   "https://urlscan.io/api/v1",
			PerMinute: 60,
			PerDay:    1000,
			Timeout:   Duration{30 * time.Second},
		},
	}
}

func (c *Config) Validate() error {
	known := make(map[string]bool, len(tierOrder))
	for _, tier := range tierOrder {
		known[tier] = true
	}
	for tier, limit := range c.Quota.Tiers {
		if !known[tier] {
			return fmt.Errorf("quota tier %s: unknown tier", tier)
		}
		if limit < 0 {
			return fmt.Errorf("quota tier %s: limit must not be negative", tier)
		}
	}
	for i := 1; i < len(tierOrder); i++ {
		lower, higher := tierOrder[i-1], tierOrder[i]
		if c.Quota.Tiers[higher] <= c.Quota.Tiers[lower] {
			return fmt.Errorf("quota tier %s: limit %d must exceed %s limit %d",
				higher, c.Quota.Tiers[higher], lower, c.Quota.Tiers[lower])
		}
	}
	for name, p := range c.Providers {
		if p.PerMinute <= 0 || p.PerDay <= 0 {
			return fmt.Errorf("provider %s: per_minute and per_day must be positive", name)
		}
		if p.PerMinute > p.PerDay {
			return fmt.Errorf("provider %s: per_minute exceeds per_day", name)
		}
	}
	if c.Cache.Backend != "redis" && c.Cache.Backend != "memory" {
		return fmt.Errorf("cache backend %q not supported", c.Cache.Backend)
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

// Package config loads SARK's configuration in three layers — defaults,
// optional YAML file, environment variables — using koanf, the way
// Hola-to-network_logistics_problem composes koanf/providers/{confmap,file,env}
// with koanf/parsers/yaml. Environment variables win, matching the teacher's
// "env overrides defaults, functional options override env" priority model.
package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is SARK's fully-resolved runtime configuration.
type Config struct {
	ServiceName string `koanf:"service_name"`
	HTTPAddr    string `koanf:"http_addr"`

	Logging LoggingConfig `koanf:"logging"`
	Redis   RedisConfig   `koanf:"redis"`
	Postgres PostgresConfig `koanf:"postgres"`

	Cache      CacheConfig      `koanf:"cache"`
	RateLimit  RateLimitConfig  `koanf:"rate_limit"`
	Policy     PolicyConfig     `koanf:"policy"`
	Adapters   AdaptersConfig   `koanf:"adapters"`
	SIEM       SIEMConfig       `koanf:"siem"`
	JWT        JWTConfig        `koanf:"jwt"`
	Budget     BudgetConfig     `koanf:"budget"`
	Health     HealthConfig     `koanf:"health"`
}

// HealthConfig controls the background poller that drives Resource
// lifecycle transitions between active and unhealthy (§3).
type HealthConfig struct {
	PollInterval time.Duration `koanf:"poll_interval"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type RedisConfig struct {
	URL string `koanf:"url"`
}

type PostgresConfig struct {
	DSN string `koanf:"dsn"`
}

// CacheConfig holds the §4.1 sensitivity TTL table and sweeper interval.
type CacheConfig struct {
	SweepInterval   time.Duration `koanf:"sweep_interval"`
	TTLLow          time.Duration `koanf:"ttl_low"`
	TTLMedium       time.Duration `koanf:"ttl_medium"`
	TTLHigh         time.Duration `koanf:"ttl_high"`
	TTLCritical     time.Duration `koanf:"ttl_critical"`
}

type RateLimitConfig struct {
	WindowSeconds  int  `koanf:"window_seconds"`
	PerIP          int  `koanf:"per_ip"`
	PerPrincipal   int  `koanf:"per_principal"`
	PerAPIKey      int  `koanf:"per_api_key"`
	AdminBypass    bool `koanf:"admin_bypass"`
}

type PolicyConfig struct {
	BundlePath string `koanf:"bundle_path"`
}

type AdaptersConfig struct {
	Enabled []string `koanf:"enabled"`
}

type SIEMSinkConfig struct {
	Name       string        `koanf:"name"`
	Kind       string        `koanf:"kind"` // splunk|datadog|slack
	URL        string        `koanf:"url"`
	Token      string        `koanf:"token"`
	BatchSize  int           `koanf:"batch_size"`
	BatchTimeout time.Duration `koanf:"batch_timeout"`
	MaxRetries int           `koanf:"max_retries"`
}

type SIEMConfig struct {
	QueueCapacity int              `koanf:"queue_capacity"`
	OutboxPath    string           `koanf:"outbox_path"`
	Sinks         []SIEMSinkConfig `koanf:"sinks"`
}

type JWTConfig struct {
	Issuer    string `koanf:"issuer"`
	Audience  string `koanf:"audience"`
	Algorithm string `koanf:"algorithm"`
	Secret    string `koanf:"secret"`
}

type BudgetConfig struct {
	PeriodBoundaryUTCHour int `koanf:"period_boundary_utc_hour"`
}

// Defaults returns the lowest-priority layer of configuration.
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		"service_name": "sark-gateway",
		"http_addr":    ":8443",

		"logging.level":  "info",
		"logging.format": "json",

		"redis.url":    "redis://localhost:6379/0",
		"postgres.dsn": "postgres://localhost:5432/sark?sslmode=disable",

		"cache.sweep_interval": "60s",
		"cache.ttl_low":        "1800s",
		"cache.ttl_medium":     "300s",
		"cache.ttl_high":       "60s",
		"cache.ttl_critical":   "0s",

		"rate_limit.window_seconds": 3600,
		"rate_limit.per_ip":         1000,
		"rate_limit.per_principal":  1000,
		"rate_limit.per_api_key":    1000,
		"rate_limit.admin_bypass":   true,

		"policy.bundle_path": "./policy/bundle",

		"adapters.enabled": []string{"mcp", "http", "grpc"},

		"siem.queue_capacity": 10000,
		"siem.outbox_path":    "./data/siem-outbox.jsonl",

		"jwt.algorithm": "RS256",

		"budget.period_boundary_utc_hour": 0,

		"health.poll_interval": "30s",
	}
}

// Load resolves configuration from defaults, an optional YAML file at
// path (skipped if empty or missing), then SARK_-prefixed environment
// variables, in that priority order.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, err
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			// A missing or invalid config file falls back silently to
			// defaults+env; the error is neither returned nor logged.
		}
	}

	if err := k.Load(env.Provider("SARK_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "SARK_")), "__", ".")
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

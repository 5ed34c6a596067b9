// Package config loads and validates the gateway configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete gateway configuration.
type Config struct {
	Server   ServerConfig             `yaml:"server"`
	Cache    CacheConfig              `yaml:"cache"`
	Database DatabaseConfig           `yaml:"database"`
	Services map[string]ServiceConfig `yaml:"services"`
	Health   HealthConfig             `yaml:"health"`
	Stream   StreamConfig             `yaml:"stream"`
}

// ServerConfig holds HTTP server settings. Timeouts are in seconds.
type ServerConfig struct {
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	ReadTimeoutSecs  int    `yaml:"read_timeout_secs"`
	WriteTimeoutSecs int    `yaml:"write_timeout_secs"`
	IdleTimeoutSecs  int    `yaml:"idle_timeout_secs"`
}

func (s ServerConfig) ReadTimeout() time.Duration  { return time.Duration(s.ReadTimeoutSecs) * time.Second }
func (s ServerConfig) WriteTimeout() time.Duration { return time.Duration(s.WriteTimeoutSecs) * time.Second }
func (s ServerConfig) IdleTimeout() time.Duration  { return time.Duration(s.IdleTimeoutSecs) * time.Second }

// CacheConfig holds Redis cache settings. An empty Addr selects the
// in-memory cache.
type CacheConfig struct {
	Addr           string `yaml:"addr"`
	Password       string `yaml:"password"`
	DB             int    `yaml:"db"`
	KeyPrefix      string `yaml:"key_prefix"`
	DefaultTTLSecs int    `yaml:"default_ttl_secs"`
}

func (c CacheConfig) DefaultTTL() time.Duration {
	return time.Duration(c.DefaultTTLSecs) * time.Second
}

// DatabaseConfig holds Postgres settings for response snapshots. An
// empty DSN disables persistence.
type DatabaseConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// ServiceConfig configures one upstream service: the primary target,
// its fallback targets in priority order, and the fault-tolerance
// parameters shared by every tier.
type ServiceConfig struct {
	Primary     string        `yaml:"primary"`
	Fallbacks   []string      `yaml:"fallbacks"`
	TTLSecs     int           `yaml:"ttl_secs"`
	TimeoutSecs int           `yaml:"timeout_secs"`
	Circuit     CircuitConfig `yaml:"circuit"`
	RateLimit   RateConfig    `yaml:"rate_limit"`
}

func (s ServiceConfig) TTL() time.Duration     { return time.Duration(s.TTLSecs) * time.Second }
func (s ServiceConfig) Timeout() time.Duration { return time.Duration(s.TimeoutSecs) * time.Second }

// Tiers returns the primary and fallback targets in priority order.
func (s ServiceConfig) Tiers() []string {
	tiers := make([]string, 0, 1+len(s.Fallbacks))
	tiers = append(tiers, s.Primary)
	tiers = append(tiers, s.Fallbacks...)
	return tiers
}

// CircuitConfig holds per-tier circuit breaker parameters.
type CircuitConfig struct {
	FailureThreshold uint32 `yaml:"failure_threshold"`
	SuccessThreshold uint32 `yaml:"success_threshold"`
	OpenTimeoutSecs  int    `yaml:"open_timeout_secs"`
}

func (c CircuitConfig) OpenTimeout() time.Duration {
	return time.Duration(c.OpenTimeoutSecs) * time.Second
}

// RateConfig holds the provider request budget.
type RateConfig struct {
	RPS         float64 `yaml:"rps"`
	Burst       int     `yaml:"burst"`
	DailyBudget int64   `yaml:"daily_budget"`
}

// HealthConfig configures the network health monitor.
type HealthConfig struct {
	IntervalSecs int            `yaml:"interval_secs"`
	TimeoutSecs  int            `yaml:"timeout_secs"`
	Targets      []HealthTarget `yaml:"targets"`
}

func (h HealthConfig) Interval() time.Duration { return time.Duration(h.IntervalSecs) * time.Second }
func (h HealthConfig) Timeout() time.Duration  { return time.Duration(h.TimeoutSecs) * time.Second }

// HealthTarget is a single probed endpoint.
type HealthTarget struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// StreamConfig configures the websocket quote refresher.
type StreamConfig struct {
	Symbols      []string `yaml:"symbols"`
	IntervalSecs int      `yaml:"interval_secs"`
}

func (s StreamConfig) Interval() time.Duration { return time.Duration(s.IntervalSecs) * time.Second }

// Keys holds upstream API keys pulled from the environment. Empty keys
// hit free-tier endpoints; only presence is checked, never format.
type Keys struct {
	CoinGecko     string
	CoinMarketCap string
	Alchemy       string
	OpenAI        string
}

// KeysFromEnv reads provider API keys from the environment.
func KeysFromEnv() Keys {
	return Keys{
		CoinGecko:     os.Getenv("COINGECKO_API_KEY"),
		CoinMarketCap: os.Getenv("COINMARKETCAP_API_KEY"),
		Alchemy:       os.Getenv("ALCHEMY_API_KEY"),
		OpenAI:        os.Getenv("OPENAI_API_KEY"),
	}
}

// Load reads a YAML config file, applies defaults, and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// ApplyDefaults fills zero-valued fields with sane defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeoutSecs == 0 {
		c.Server.ReadTimeoutSecs = 10
	}
	if c.Server.WriteTimeoutSecs == 0 {
		c.Server.WriteTimeoutSecs = 15
	}
	if c.Server.IdleTimeoutSecs == 0 {
		c.Server.IdleTimeoutSecs = 60
	}

	if c.Cache.KeyPrefix == "" {
		c.Cache.KeyPrefix = "chainpulse:"
	}
	if c.Cache.DefaultTTLSecs == 0 {
		c.Cache.DefaultTTLSecs = 60
	}

	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 8
	}

	if c.Health.IntervalSecs == 0 {
		c.Health.IntervalSecs = 30
	}
	if c.Health.TimeoutSecs == 0 {
		c.Health.TimeoutSecs = 5
	}

	if c.Stream.IntervalSecs == 0 {
		c.Stream.IntervalSecs = 15
	}
	if len(c.Stream.Symbols) == 0 {
		c.Stream.Symbols = []string{"BTC", "ETH", "SOL"}
	}

	for name, svc := range c.Services {
		if svc.TTLSecs == 0 {
			svc.TTLSecs = c.Cache.DefaultTTLSecs
		}
		if svc.TimeoutSecs == 0 {
			svc.TimeoutSecs = 10
		}
		if svc.Circuit.FailureThreshold == 0 {
			svc.Circuit.FailureThreshold = 3
		}
		if svc.Circuit.SuccessThreshold == 0 {
			svc.Circuit.SuccessThreshold = 1
		}
		if svc.Circuit.OpenTimeoutSecs == 0 {
			svc.Circuit.OpenTimeoutSecs = 30
		}
		if svc.RateLimit.RPS == 0 {
			svc.RateLimit.RPS = 1
		}
		if svc.RateLimit.Burst == 0 {
			svc.RateLimit.Burst = 2
		}
		c.Services[name] = svc
	}
}

// Validate ensures the configuration is consistent.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be 1-65535, got %d", c.Server.Port)
	}

	for name, svc := range c.Services {
		if svc.Primary == "" {
			return fmt.Errorf("service %s: primary URL is required", name)
		}
		if svc.TTLSecs < 0 {
			return fmt.Errorf("service %s: ttl_secs must not be negative", name)
		}
		if svc.RateLimit.RPS < 0 {
			return fmt.Errorf("service %s: rps must not be negative", name)
		}
	}

	for _, t := range c.Health.Targets {
		if t.Name == "" || t.URL == "" {
			return fmt.Errorf("health target needs both name and url")
		}
	}

	return nil
}

// Service returns the configuration for a named service, falling back
// to a permissive default so unconfigured services still work in dev.
func (c *Config) Service(name string) ServiceConfig {
	if svc, ok := c.Services[name]; ok {
		return svc
	}
	return ServiceConfig{
		TTLSecs:     c.Cache.DefaultTTLSecs,
		TimeoutSecs: 10,
		Circuit: CircuitConfig{
			FailureThreshold: 3,
			SuccessThreshold: 1,
			OpenTimeoutSecs:  30,
		},
		RateLimit: RateConfig{RPS: 1, Burst: 2},
	}
}

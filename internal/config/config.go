package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Placeholder values that must never reach a running deployment.
var unsafePlaceholders = []string{"changeme", "your-api-key", "xxx", "placeholder"}

// Provider configures the market data provider and its key pool.
type Provider struct {
	BaseURL       string        `yaml:"base_url"`
	APIKeys       []string      `yaml:"api_keys"`
	Cooldown      time.Duration `yaml:"cooldown"`
	RetryBudget   int           `yaml:"retry_budget"`
	SustainedRate float64       `yaml:"sustained_rate"`
	// JitterMin/Max bound the randomized pause before each provider
	// request so batched PnL lookups spread out instead of bursting.
	JitterMin time.Duration `yaml:"jitter_min"`
	JitterMax time.Duration `yaml:"jitter_max"`
}

// Redis configures the broker and result cache connection.
type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Postgres configures the optional watchlist store.
type Postgres struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

// HTTP configures the read-only API server.
type HTTP struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Analysis holds the pipeline defaults an operator can tune.
type Analysis struct {
	MinROIMultiplier float64 `yaml:"min_roi_multiplier"`
	MinRunnerHits    int     `yaml:"min_runner_hits"`
	AnalysisDays     int     `yaml:"analysis_timeframe_days"`
}

// Config is the full walletrank configuration.
type Config struct {
	Provider  Provider `yaml:"provider"`
	Redis     Redis    `yaml:"redis"`
	Postgres  Postgres `yaml:"postgres"`
	HTTP      HTTP     `yaml:"http"`
	Analysis  Analysis `yaml:"analysis"`
	LogFormat string   `yaml:"log_format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Provider: Provider{
			BaseURL:       "https://public-api.birdeye.so",
			Cooldown:      15 * time.Minute,
			RetryBudget:   3,
			SustainedRate: 0.85,
			JitterMin:     3 * time.Second,
			JitterMax:     6 * time.Second,
		},
		Redis: Redis{Addr: "localhost:6379"},
		HTTP: HTTP{
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Analysis: Analysis{
			MinROIMultiplier: 5.0,
			MinRunnerHits:    2,
			AnalysisDays:     7,
		},
		LogFormat: "console",
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		c.Redis.Password = pw
	}
	if keys := os.Getenv("PROVIDER_API_KEYS"); keys != "" {
		c.Provider.APIKeys = splitKeys(keys)
	}
	if base := os.Getenv("PROVIDER_BASE_URL"); base != "" {
		c.Provider.BaseURL = base
	}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Postgres.DSN = dsn
		c.Postgres.Enabled = true
	}
	if port := os.Getenv("HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil && p > 0 {
			c.HTTP.Port = p
		}
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		c.LogFormat = format
	}
}

func splitKeys(raw string) []string {
	parts := strings.Split(raw, ",")
	keys := make([]string, 0, len(parts))
	for _, p := range parts {
		if k := strings.TrimSpace(p); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

func (c *Config) validate() error {
	if c.Provider.BaseURL == "" {
		return fmt.Errorf("provider.base_url is required")
	}
	if c.Postgres.Enabled && c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn is required when postgres is enabled")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port %d out of range", c.HTTP.Port)
	}
	return nil
}

// IsPlaceholder reports whether a secret looks like an unexpanded template
// value rather than a real credential.
func IsPlaceholder(v string) bool {
	lower := strings.ToLower(strings.TrimSpace(v))
	if lower == "" {
		return true
	}
	for _, p := range unsafePlaceholders {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// UnsafeSecrets lists config fields still carrying placeholder values.
// The health endpoint surfaces these so a bad deploy is visible.
func (c *Config) UnsafeSecrets() []string {
	var unsafe []string
	if len(c.Provider.APIKeys) == 0 {
		unsafe = append(unsafe, "provider.api_keys: empty")
	}
	for i, key := range c.Provider.APIKeys {
		if IsPlaceholder(key) {
			unsafe = append(unsafe, fmt.Sprintf("provider.api_keys[%d]: placeholder", i))
		}
	}
	if c.Postgres.Enabled && IsPlaceholder(c.Postgres.DSN) {
		unsafe = append(unsafe, "postgres.dsn: placeholder")
	}
	return unsafe
}

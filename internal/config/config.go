// Package config defines the settlement engine's configuration and
// provides validation helpers.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from an
// optional TOML file and then overridden by environment variables.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	Grading  GradingConfig  `toml:"grading"`
	Retry    RetryConfig    `toml:"retry"`
	Limits   LimitsConfig   `toml:"limits"`
	Results  ResultsConfig  `toml:"results"`
	LogLevel string         `toml:"log_level"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	LockTimeout     Duration `toml:"lock_timeout"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

// DatabaseConfig holds the PostgreSQL connection string. Empty means the
// in-memory store.
type DatabaseConfig struct {
	URL string `toml:"url"`
}

// RedisConfig holds Redis parameters. Empty URL disables caching,
// distributed locks and the event stream.
type RedisConfig struct {
	URL       string   `toml:"url"`
	CacheTTL  Duration `toml:"cache_ttl"`
	LockTTL   Duration `toml:"lock_ttl"`
	Stream    string   `toml:"stream"`
	StreamLen int64    `toml:"stream_max_len"`
}

// GradingConfig controls the scheduled grading job.
type GradingConfig struct {
	Enabled  bool     `toml:"enabled"`
	Schedule string   `toml:"schedule"`
	MinAge   Duration `toml:"min_age"`
}

// RetryConfig controls retries around store commits.
type RetryConfig struct {
	MaxAttempts  int      `toml:"max_attempts"`
	InitialDelay Duration `toml:"initial_delay"`
	MaxDelay     Duration `toml:"max_delay"`
}

// LimitsConfig caps collateral held per user. Zero disables a limit.
// Values are decimal strings, e.g. "5000".
type LimitsConfig struct {
	MaxPerMatch decimal.Decimal `toml:"max_per_match"`
	MaxOpen     decimal.Decimal `toml:"max_open"`
}

// ResultsConfig points at the external match results API. Empty APIURL
// means results only come from manual entry.
type ResultsConfig struct {
	APIURL  string   `toml:"api_url"`
	APIKey  string   `toml:"api_key"`
	Timeout Duration `toml:"timeout"`
}

// Duration wraps time.Duration so TOML can decode strings like "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config suitable for local development: in-memory
// store, no Redis, grading every 30 seconds.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			CORSOrigins:     []string{"*"},
			LockTimeout:     Duration{10 * time.Second},
			ShutdownTimeout: Duration{15 * time.Second},
		},
		Redis: RedisConfig{
			CacheTTL:  Duration{30 * time.Second},
			LockTTL:   Duration{30 * time.Second},
			Stream:    "positions.events",
			StreamLen: 100000,
		},
		Grading: GradingConfig{
			Enabled:  true,
			Schedule: "@every 30s",
			MinAge:   Duration{time.Minute},
		},
		Retry: RetryConfig{
			MaxAttempts:  3,
			InitialDelay: Duration{50 * time.Millisecond},
			MaxDelay:     Duration{time.Second},
		},
		Limits: LimitsConfig{
			MaxPerMatch: decimal.Zero,
			MaxOpen:     decimal.Zero,
		},
		Results: ResultsConfig{
			Timeout: Duration{10 * time.Second},
		},
		LogLevel: "info",
	}
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for invalid values and returns every problem
// found joined into one error.
func (c *Config) Validate() error {
	var errs []error

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Errorf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server: port must be in 1..65535, got %d", c.Server.Port))
	}
	if c.Server.LockTimeout.Duration <= 0 {
		errs = append(errs, errors.New("server: lock_timeout must be positive"))
	}

	if c.Redis.URL != "" {
		if _, err := url.Parse(c.Redis.URL); err != nil {
			errs = append(errs, fmt.Errorf("redis: invalid url: %w", err))
		}
		if c.Redis.LockTTL.Duration <= 0 {
			errs = append(errs, errors.New("redis: lock_ttl must be positive"))
		}
	}

	if c.Grading.Enabled {
		if _, err := cron.ParseStandard(c.Grading.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("grading: invalid schedule %q: %w", c.Grading.Schedule, err))
		}
		if c.Grading.MinAge.Duration < 0 {
			errs = append(errs, errors.New("grading: min_age must not be negative"))
		}
	}

	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry: max_attempts must be at least 1, got %d", c.Retry.MaxAttempts))
	}
	if c.Retry.InitialDelay.Duration < 0 || c.Retry.MaxDelay.Duration < 0 {
		errs = append(errs, errors.New("retry: delays must not be negative"))
	}

	if c.Limits.MaxPerMatch.IsNegative() || c.Limits.MaxOpen.IsNegative() {
		errs = append(errs, errors.New("limits: values must not be negative"))
	}

	if c.Results.APIURL != "" {
		if u, err := url.Parse(c.Results.APIURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("results: api_url %q is not an absolute URL", c.Results.APIURL))
		}
	}

	return errors.Join(errs...)
}

// Redacted returns a copy of c with credentials masked, for logging.
func (c Config) Redacted() Config {
	out := c
	out.Database.URL = redactURL(c.Database.URL)
	out.Redis.URL = redactURL(c.Redis.URL)
	if out.Results.APIKey != "" {
		out.Results.APIKey = "***"
	}
	return out
}

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	return u.Redacted()
}

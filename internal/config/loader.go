package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Load builds the configuration from the defaults, the TOML file at path
// (skipped when path is empty), a .env file if present, and finally
// BETSTREAM_* environment variables. The plain PORT, DATABASE_URL and
// REDIS_URL variables are honoured too. The result has NOT been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides overwrites Config fields whose environment variable is
// set and non-empty.
func applyEnvOverrides(cfg *Config) {
	// Plain names used by container platforms.
	setInt(&cfg.Server.Port, "PORT")
	setStr(&cfg.Database.URL, "DATABASE_URL")
	setStr(&cfg.Redis.URL, "REDIS_URL")

	// ── Server ──
	setInt(&cfg.Server.Port, "BETSTREAM_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "BETSTREAM_SERVER_CORS_ORIGINS")
	setDuration(&cfg.Server.LockTimeout, "BETSTREAM_SERVER_LOCK_TIMEOUT")
	setDuration(&cfg.Server.ShutdownTimeout, "BETSTREAM_SERVER_SHUTDOWN_TIMEOUT")

	// ── Database ──
	setStr(&cfg.Database.URL, "BETSTREAM_DATABASE_URL")

	// ── Redis ──
	setStr(&cfg.Redis.URL, "BETSTREAM_REDIS_URL")
	setDuration(&cfg.Redis.CacheTTL, "BETSTREAM_REDIS_CACHE_TTL")
	setDuration(&cfg.Redis.LockTTL, "BETSTREAM_REDIS_LOCK_TTL")
	setStr(&cfg.Redis.Stream, "BETSTREAM_REDIS_STREAM")
	setInt64(&cfg.Redis.StreamLen, "BETSTREAM_REDIS_STREAM_MAX_LEN")

	// ── Grading ──
	setBool(&cfg.Grading.Enabled, "BETSTREAM_GRADING_ENABLED")
	setStr(&cfg.Grading.Schedule, "BETSTREAM_GRADING_SCHEDULE")
	setDuration(&cfg.Grading.MinAge, "BETSTREAM_GRADING_MIN_AGE")

	// ── Retry ──
	setInt(&cfg.Retry.MaxAttempts, "BETSTREAM_RETRY_MAX_ATTEMPTS")
	setDuration(&cfg.Retry.InitialDelay, "BETSTREAM_RETRY_INITIAL_DELAY")
	setDuration(&cfg.Retry.MaxDelay, "BETSTREAM_RETRY_MAX_DELAY")

	// ── Limits ──
	setDecimal(&cfg.Limits.MaxPerMatch, "BETSTREAM_LIMITS_MAX_PER_MATCH")
	setDecimal(&cfg.Limits.MaxOpen, "BETSTREAM_LIMITS_MAX_OPEN")

	// ── Results ──
	setStr(&cfg.Results.APIURL, "BETSTREAM_RESULTS_API_URL")
	setStr(&cfg.Results.APIKey, "BETSTREAM_RESULTS_API_KEY")
	setDuration(&cfg.Results.Timeout, "BETSTREAM_RESULTS_TIMEOUT")

	setStr(&cfg.LogLevel, "BETSTREAM_LOG_LEVEL")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setDecimal(dst *decimal.Decimal, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			*dst = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

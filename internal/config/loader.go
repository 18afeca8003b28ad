package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "researchd.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "RESEARCHD_PORT")
	setString(&cfg.Server.CORSOrigin, "RESEARCHD_CORS_ORIGIN")

	setString(&cfg.Backend.URL, "RESEARCHD_BACKEND_URL")
	setString(&cfg.Backend.APIKey, "RESEARCHD_BACKEND_API_KEY")
	setDuration(&cfg.Backend.ConnectTimeout, "RESEARCHD_BACKEND_CONNECT_TIMEOUT")
	setString(&cfg.Backend.Mode, "RESEARCHD_BACKEND_MODE")

	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "RESEARCHD_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "RESEARCHD_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "RESEARCHD_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "RESEARCHD_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "RESEARCHD_PG_HEALTH_CHECK")

	setString(&cfg.NATS.URL, "NATS_URL")

	setInt64(&cfg.Cache.L1MaxSizeMB, "RESEARCHD_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "RESEARCHD_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "RESEARCHD_CACHE_L2_TTL")
	setDuration(&cfg.Cache.AnswerTTL, "RESEARCHD_CACHE_ANSWER_TTL")

	setDuration(&cfg.Stream.IdleWindow, "RESEARCHD_STREAM_IDLE_WINDOW")
	setInt(&cfg.Stream.MinAnswerChars, "RESEARCHD_STREAM_MIN_ANSWER_CHARS")

	setInt(&cfg.Retry.MaxAttempts, "RESEARCHD_RETRY_MAX_ATTEMPTS")
	setDuration(&cfg.Retry.BackoffBase, "RESEARCHD_RETRY_BACKOFF_BASE")

	setString(&cfg.Pacer.Granularity, "RESEARCHD_PACER_GRANULARITY")
	setDuration(&cfg.Pacer.ShortDelay, "RESEARCHD_PACER_SHORT_DELAY")
	setDuration(&cfg.Pacer.LongDelay, "RESEARCHD_PACER_LONG_DELAY")
	setDuration(&cfg.Pacer.DefaultDelay, "RESEARCHD_PACER_DEFAULT_DELAY")

	setDuration(&cfg.Stages.SettleDelay, "RESEARCHD_STAGES_SETTLE_DELAY")
	setDuration(&cfg.Stages.MinDwell, "RESEARCHD_STAGES_MIN_DWELL")

	setString(&cfg.Logging.Level, "RESEARCHD_LOG_LEVEL")
	setString(&cfg.Logging.Service, "RESEARCHD_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "RESEARCHD_LOG_ASYNC")

	setInt(&cfg.Breaker.MaxFailures, "RESEARCHD_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "RESEARCHD_BREAKER_TIMEOUT")

	setFloat64(&cfg.Rate.RequestsPerSecond, "RESEARCHD_RATE_RPS")
	setInt(&cfg.Rate.Burst, "RESEARCHD_RATE_BURST")
	setDuration(&cfg.Rate.CleanupInterval, "RESEARCHD_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "RESEARCHD_RATE_MAX_IDLE_TIME")

	setString(&cfg.Auth.APIKeyHash, "RESEARCHD_API_KEY_HASH")
	setString(&cfg.Otel.Endpoint, "RESEARCHD_OTEL_ENDPOINT")
}

// validate checks that required fields are set and enumerations are valid.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Backend.URL == "" {
		return errors.New("backend.url is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Stream.IdleWindow <= 0 {
		return errors.New("stream.idle_window must be positive")
	}
	if cfg.Stream.MinAnswerChars < 0 {
		return errors.New("stream.min_answer_chars must be >= 0")
	}
	if cfg.Retry.MaxAttempts < 1 {
		return errors.New("retry.max_attempts must be >= 1")
	}
	if g := cfg.Pacer.Granularity; g != "chars" && g != "words" {
		return fmt.Errorf("pacer.granularity must be chars or words, got %q", g)
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
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

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidDBDriver         = errors.New("DB_DRIVER must be 'sqlite' or 'postgres'")
	ErrMissingDatabaseDSN      = errors.New("DB_DSN is required for postgres")
	ErrInvalidBatchConcurrency = errors.New("BATCH_MAX_CONCURRENCY must be > 0")
)

type Config struct {
	HTTP    HTTPConfig
	Project ProjectConfig
	Mock    MockConfig
	DB      DBConfig
	Redis   RedisConfig
	Rate    RateConfig
	Batch   BatchConfig
	Cache   CacheConfig
	Log     LogConfig
}

type HTTPConfig struct {
	ListenAddr     string
	HealthPath     string
	MetricsPath    string
	MaxUploadBytes int64
	ReadTimeout    time.Duration
}

type ProjectConfig struct {
	DefaultProjectID  string
	DefaultLocation   string
	EnforcedProjectID string
	EnforcedLocation  string
}

type MockConfig struct {
	Delay                    time.Duration
	PresetsFile              string
	DefaultSystemInstruction string
}

type DBConfig struct {
	Driver      string
	DSN         string
	AutoMigrate bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RateConfig struct {
	PerMinute int64
}

type BatchConfig struct {
	MaxConcurrency int
	Timeout        time.Duration
}

type CacheConfig struct {
	DefaultTTL    time.Duration
	SweepInterval time.Duration
}

type LogConfig struct {
	Level string
}

func Load() (*Config, error) {
	cfg := &Config{
		HTTP: HTTPConfig{
			ListenAddr:     mustEnv("LISTEN_ADDR", ":8080"),
			HealthPath:     mustEnv("HEALTH_PATH", "/health"),
			MetricsPath:    mustEnv("METRICS_PATH", "/metrics"),
			MaxUploadBytes: mustInt64("MAX_UPLOAD_BYTES", 10<<20),
			ReadTimeout:    mustDuration("HTTP_READ_TIMEOUT", 60*time.Second),
		},
		Project: ProjectConfig{
			DefaultProjectID:  mustEnv("DEFAULT_PROJECT_ID", "mock-project"),
			DefaultLocation:   mustEnv("DEFAULT_LOCATION", "us-central1"),
			EnforcedProjectID: mustEnv("ENFORCED_PROJECT_ID", ""),
			EnforcedLocation:  mustEnv("ENFORCED_LOCATION", ""),
		},
		Mock: MockConfig{
			Delay:                    mustDuration("MOCK_DELAY", 50*time.Millisecond),
			PresetsFile:              mustEnv("PRESETS_FILE", ""),
			DefaultSystemInstruction: mustEnv("DEFAULT_SYSTEM_INSTRUCTION", ""),
		},
		DB: DBConfig{
			Driver:      strings.ToLower(mustEnv("DB_DRIVER", "sqlite")),
			DSN:         mustEnv("DB_DSN", ""),
			AutoMigrate: mustBool("AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Addr:     mustEnv("REDIS_ADDR", ""),
			Password: mustEnv("REDIS_PASSWORD", ""),
			DB:       mustInt("REDIS_DB", 0),
		},
		Rate: RateConfig{
			PerMinute: mustInt64("RATE_LIMIT_PER_MINUTE", 60),
		},
		Batch: BatchConfig{
			MaxConcurrency: mustInt("BATCH_MAX_CONCURRENCY", 5),
			Timeout:        mustDuration("BATCH_TIMEOUT", 5*time.Minute),
		},
		Cache: CacheConfig{
			DefaultTTL:    mustDuration("CACHE_DEFAULT_TTL", time.Hour),
			SweepInterval: mustDuration("CACHE_SWEEP_INTERVAL", time.Minute),
		},
		Log: LogConfig{
			Level: strings.ToLower(mustEnv("LOG_LEVEL", "info")),
		},
	}

	switch cfg.DB.Driver {
	case "sqlite", "sqlite3":
		cfg.DB.Driver = "sqlite"
	case "postgres", "pgx":
		cfg.DB.Driver = "postgres"
		if cfg.DB.DSN == "" {
			return nil, ErrMissingDatabaseDSN
		}
	default:
		return nil, ErrInvalidDBDriver
	}
	if cfg.Batch.MaxConcurrency <= 0 {
		return nil, ErrInvalidBatchConcurrency
	}

	return cfg, nil
}

func mustEnv(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func mustInt(key string, def int) int {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func mustInt64(key string, def int64) int64 {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func mustBool(key string, def bool) bool {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func mustDuration(key string, def time.Duration) time.Duration {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

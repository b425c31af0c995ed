package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
)

// Config holds runtime configuration.
type Config struct {
	Port     string
	LogLevel string

	// StoreDriver is one of memory, sqlite, postgres, redis, badger.
	StoreDriver   string
	DatabaseURL   string
	SQLitePath    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	BadgerDir     string

	DefinitionsDir string
	DefaultTTL     time.Duration

	JWTSecret      string
	RateLimitRPS   int
	RateLimitBurst int
	NotifyRPS      float64

	WebhookURL    string
	WebhookSecret string

	OTelEnabled  bool
	OTelEndpoint string
	OTelInsecure bool

	ArchiveKind     string
	ArchiveDir      string
	ArchiveBucket   string
	ArchiveRegion   string
	ArchiveEndpoint string
	ArchivePrefix   string
}

// DataDir is where local state lives by default.
func DataDir() string {
	return filepath.Join(xdg.DataHome, "intake")
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Load loads configuration from environment variables. Malformed numeric
// values are logged and replaced by their defaults.
func Load() *Config {
	return &Config{
		Port:     str("PORT", "8080"),
		LogLevel: str("LOG_LEVEL", "INFO"),

		StoreDriver:   str("STORE_DRIVER", "memory"),
		DatabaseURL:   str("DATABASE_URL", "postgres://intake@localhost:5432/intake?sslmode=disable"),
		SQLitePath:    str("SQLITE_PATH", filepath.Join(DataDir(), "intake.db")),
		RedisAddr:     str("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       integer("REDIS_DB", 0),
		BadgerDir:     str("BADGER_DIR", filepath.Join(DataDir(), "badger")),

		DefinitionsDir: str("DEFINITIONS_DIR", "definitions"),
		DefaultTTL:     duration("DEFAULT_TTL", 24*time.Hour),

		JWTSecret:      os.Getenv("JWT_SECRET"),
		RateLimitRPS:   integer("RATE_LIMIT_RPS", 20),
		RateLimitBurst: integer("RATE_LIMIT_BURST", 40),
		NotifyRPS:      float("NOTIFY_RPS", 1),

		WebhookURL:    os.Getenv("WEBHOOK_URL"),
		WebhookSecret: os.Getenv("WEBHOOK_SECRET"),

		OTelEnabled:  os.Getenv("OTEL_ENABLED") == "true",
		OTelEndpoint: str("OTEL_ENDPOINT", "localhost:4317"),
		OTelInsecure: os.Getenv("OTEL_INSECURE") == "true",

		ArchiveKind:     str("ARCHIVE_KIND", "fs"),
		ArchiveDir:      str("ARCHIVE_DIR", filepath.Join(DataDir(), "archive")),
		ArchiveBucket:   os.Getenv("ARCHIVE_BUCKET"),
		ArchiveRegion:   os.Getenv("ARCHIVE_REGION"),
		ArchiveEndpoint: os.Getenv("ARCHIVE_ENDPOINT"),
		ArchivePrefix:   os.Getenv("ARCHIVE_PREFIX"),
	}
}

func str(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func integer(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("ignoring malformed integer", "key", key, "value", v)
		return def
	}
	return n
}

func float(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("ignoring malformed number", "key", key, "value", v)
		return def
	}
	return f
}

func duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("ignoring malformed duration", "key", key, "value", v)
		return def
	}
	return d
}

// Package config loads the service configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Activity log backends.
const (
	ActivityBackendPostgres   = "postgres"
	ActivityBackendClickHouse = "clickhouse"
)

// Config holds the application configuration
type Config struct {
	Port     string
	AppEnv   string
	LogLevel string

	// PostgreSQL configuration
	Database DatabaseConfig

	UseMemoryStore bool
	AutoMigrate    bool

	// Refuse issue requests for books with no available copies
	RequestRequiresAvailability bool

	// Redis push broker (empty address selects the in-process broker)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Reading activity backend
	ActivityBackend    string
	ClickHouseHost     string
	ClickHousePort     int
	ClickHouseDatabase string
	ClickHouseUser     string
	ClickHousePassword string
	ClickHouseUseTLS   bool

	UploadDir      string
	MaxUploadBytes int64

	AdminRegistrationCode string
	SessionTTL            time.Duration
	CORSOrigin            string
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN builds a libpq-compatible connection string. DATABASE_URL wins when set.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development" || c.LogLevel == "debug"
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Port:     getEnv("PORT", "8080"),
		AppEnv:   getEnv("APP_ENV", "production"),
		LogLevel: strings.ToLower(getEnv("LOG_LEVEL", "info")),
		Database: DatabaseConfig{
			URL:      os.Getenv("DATABASE_URL"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "library"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		UploadDir:             getEnv("UPLOAD_DIR", "./uploads"),
		AdminRegistrationCode: os.Getenv("ADMIN_REGISTRATION_CODE"),
		CORSOrigin:            getEnv("CORS_ORIGIN", "*"),
	}

	var err error
	if cfg.UseMemoryStore, err = getBool("USE_MEMORY_STORE", false); err != nil {
		return nil, err
	}
	if cfg.AutoMigrate, err = getBool("AUTO_MIGRATE", true); err != nil {
		return nil, err
	}
	if cfg.RequestRequiresAvailability, err = getBool("REQUEST_REQUIRES_AVAILABILITY", false); err != nil {
		return nil, err
	}
	if cfg.RedisDB, err = getInt("REDIS_DB", 0); err != nil {
		return nil, err
	}

	maxUploadMB, err := getInt("MAX_UPLOAD_MB", 50)
	if err != nil {
		return nil, err
	}
	if maxUploadMB <= 0 {
		return nil, fmt.Errorf("MAX_UPLOAD_MB must be positive")
	}
	cfg.MaxUploadBytes = int64(maxUploadMB) << 20

	ttl := getEnv("SESSION_TTL", "72h")
	cfg.SessionTTL, err = time.ParseDuration(ttl)
	if err != nil {
		return nil, fmt.Errorf("invalid SESSION_TTL: %w", err)
	}
	if cfg.SessionTTL <= 0 {
		return nil, fmt.Errorf("SESSION_TTL must be positive")
	}

	// Activity backend (ClickHouse settings are required only when selected)
	cfg.ActivityBackend = strings.ToLower(getEnv("ACTIVITY_BACKEND", ActivityBackendPostgres))
	switch cfg.ActivityBackend {
	case ActivityBackendPostgres:
	case ActivityBackendClickHouse:
		cfg.ClickHouseHost = os.Getenv("CLICKHOUSE_HOST")
		if cfg.ClickHouseHost == "" {
			return nil, fmt.Errorf("CLICKHOUSE_HOST is required when ACTIVITY_BACKEND is clickhouse")
		}
		if cfg.ClickHousePort, err = getInt("CLICKHOUSE_PORT", 9000); err != nil {
			return nil, err
		}
		cfg.ClickHouseDatabase = getEnv("CLICKHOUSE_DATABASE", "default")
		cfg.ClickHouseUser = getEnv("CLICKHOUSE_USER", "default")
		cfg.ClickHousePassword = os.Getenv("CLICKHOUSE_PASSWORD")
		if cfg.ClickHouseUseTLS, err = getBool("CLICKHOUSE_USE_TLS", false); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown ACTIVITY_BACKEND %q (want postgres or clickhouse)", cfg.ActivityBackend)
	}

	if cfg.UseMemoryStore && cfg.ActivityBackend == ActivityBackendClickHouse {
		return nil, fmt.Errorf("ACTIVITY_BACKEND=clickhouse cannot be combined with USE_MEMORY_STORE")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

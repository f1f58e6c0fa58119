// Package config loads daemon configuration from environment variables
// and the providers YAML file. Environment covers deployment concerns
// (addresses, connection URLs, secrets); the YAML file declares the
// provider set and login policy.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/keygate/keygate/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	State    StateConfig
	Session  SessionConfig

	// ProvidersFile is the path of the YAML file declaring providers and
	// login policy.
	ProvidersFile string

	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds the Postgres account store configuration
type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
}

// RedisConfig holds the Redis state store configuration. An empty URL
// selects the in-memory state store.
type RedisConfig struct {
	URL      string
	Password string
	DB       int
}

// StateConfig tunes the anti-forgery state store
type StateConfig struct {
	TTL           time.Duration
	SweepSchedule string // cron expression, memory store only
}

// SessionConfig holds session token issuance settings
type SessionConfig struct {
	SigningKey []byte
	Issuer     string
	TTL        time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("KEYGATE_HOST", "0.0.0.0"),
			Port:            getEnv("KEYGATE_PORT", "8080"),
			ReadTimeout:     getEnvDuration("KEYGATE_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("KEYGATE_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("KEYGATE_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("KEYGATE_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("KEYGATE_HEALTH_PORT", "9090"),
		},
		Database: DatabaseConfig{
			URL:          getEnv("KEYGATE_POSTGRES_URL", ""),
			MaxOpenConns: getEnvInt("KEYGATE_POSTGRES_MAX_CONNS", 25),
			MaxIdleConns: getEnvInt("KEYGATE_POSTGRES_IDLE_CONNS", 5),
		},
		Redis: RedisConfig{
			URL:      getEnv("KEYGATE_REDIS_URL", ""),
			Password: getEnv("KEYGATE_REDIS_PASSWORD", ""),
			DB:       getEnvInt("KEYGATE_REDIS_DB", 0),
		},
		State: StateConfig{
			TTL:           getEnvDuration("KEYGATE_STATE_TTL", 10*time.Minute),
			SweepSchedule: getEnv("KEYGATE_STATE_SWEEP_SCHEDULE", "@every 1m"),
		},
		Session: SessionConfig{
			SigningKey: []byte(getEnv("KEYGATE_SESSION_SIGNING_KEY", "")),
			Issuer:     getEnv("KEYGATE_SESSION_ISSUER", "keygate"),
			TTL:        getEnvDuration("KEYGATE_SESSION_TTL", 24*time.Hour),
		},
		ProvidersFile: getEnv("KEYGATE_PROVIDERS_FILE", "providers.yaml"),
		Observability: ObservabilityConfig{
			LogLevel:       observability.ParseLevel(getEnv("KEYGATE_LOG_LEVEL", "info")),
			MetricsEnabled: getEnvBool("KEYGATE_METRICS_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if len(c.Session.SigningKey) < 32 {
		return fmt.Errorf("session signing key must be at least 32 bytes")
	}
	if c.State.TTL <= 0 {
		return fmt.Errorf("state TTL must be positive")
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}
	if c.ProvidersFile == "" {
		return fmt.Errorf("providers file is required")
	}
	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

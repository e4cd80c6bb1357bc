// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/foreman/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Redis configuration (API rate limiting)
	Redis RedisConfig

	// Mail configuration (invitation and notification email)
	Mail MailConfig

	// Auth configuration
	Auth AuthConfig

	// Observability configuration
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

	// BaseURL is the externally reachable URL used in invitation links
	BaseURL string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL      string
	MaxConns int
	MinConns int
	Timeout  time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	URL      string
	Password string
	DB       int
	Enabled  bool
}

// MailConfig holds SMTP configuration
type MailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Enabled  bool
}

// AuthConfig holds session and rate limit configuration
type AuthConfig struct {
	SessionTTL         time.Duration
	LoginWindow        time.Duration
	LoginMaxAttempts   int
	InvitationValidity time.Duration
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
			Host:            getEnv("FOREMAN_HOST", "0.0.0.0"),
			Port:            getEnv("FOREMAN_PORT", "8080"),
			ReadTimeout:     getEnvDuration("FOREMAN_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("FOREMAN_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("FOREMAN_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("FOREMAN_SHUTDOWN_TIMEOUT", 30*time.Second),
			BaseURL:         getEnv("FOREMAN_BASE_URL", "http://localhost:8080"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("FOREMAN_POSTGRES_URL", ""),
			MaxConns: getEnvInt("FOREMAN_POSTGRES_MAX_CONNS", 25),
			MinConns: getEnvInt("FOREMAN_POSTGRES_MIN_CONNS", 5),
			Timeout:  getEnvDuration("FOREMAN_POSTGRES_TIMEOUT", 10*time.Second),
		},
		Redis: RedisConfig{
			URL:      getEnv("FOREMAN_REDIS_URL", ""),
			Password: getEnv("FOREMAN_REDIS_PASSWORD", ""),
			DB:       getEnvInt("FOREMAN_REDIS_DB", 0),
			Enabled:  getEnvBool("FOREMAN_REDIS_ENABLED", false),
		},
		Mail: MailConfig{
			Host:     getEnv("FOREMAN_SMTP_HOST", ""),
			Port:     getEnvInt("FOREMAN_SMTP_PORT", 587),
			Username: getEnv("FOREMAN_SMTP_USERNAME", ""),
			Password: getEnv("FOREMAN_SMTP_PASSWORD", ""),
			From:     getEnv("FOREMAN_SMTP_FROM", "noreply@foreman.local"),
			Enabled:  getEnvBool("FOREMAN_SMTP_ENABLED", false),
		},
		Auth: AuthConfig{
			SessionTTL:         getEnvDuration("FOREMAN_SESSION_TTL", 24*time.Hour),
			LoginWindow:        getEnvDuration("FOREMAN_LOGIN_WINDOW", 15*time.Minute),
			LoginMaxAttempts:   getEnvInt("FOREMAN_LOGIN_MAX_ATTEMPTS", 5),
			InvitationValidity: getEnvDuration("FOREMAN_INVITATION_VALIDITY", 7*24*time.Hour),
		},
		Observability: ObservabilityConfig{
			LogLevel:       observability.ParseLogLevel(getEnv("FOREMAN_LOG_LEVEL", "info")),
			MetricsEnabled: getEnvBool("FOREMAN_METRICS_ENABLED", true),
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
	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Redis.Enabled && c.Redis.URL == "" {
		return fmt.Errorf("redis URL is required when redis is enabled")
	}
	if c.Mail.Enabled && c.Mail.Host == "" {
		return fmt.Errorf("SMTP host is required when mail is enabled")
	}
	if c.Auth.LoginMaxAttempts <= 0 {
		return fmt.Errorf("login max attempts must be positive")
	}
	return nil
}

// getEnv retrieves an environment variable or returns the default
func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvInt retrieves an integer environment variable or returns the default
func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return defaultVal
}

// getEnvBool retrieves a boolean environment variable or returns the default
func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return strings.ToLower(val) == "true"
	}
	return defaultVal
}

// getEnvDuration retrieves a duration environment variable or returns the default
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return defaultVal
}

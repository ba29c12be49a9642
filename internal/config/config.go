// Package config loads engine configuration from the environment, the way
// every service in the teacher's common/config package does it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all process configuration.
type Config struct {
	Service  ServiceConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Webhook  WebhookConfig
	RateLimit RateLimitConfig
}

// ServiceConfig holds HTTP-facing settings.
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
	PublicBaseURL string // used to build callback URLs for async workers
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// RedisConfig holds Redis connection settings (rate limiting, change notifications).
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// WebhookConfig holds webhook ingress settings.
type WebhookConfig struct {
	InternalServiceSecret string // bypasses rate limiting for trusted callers
}

// RateLimitConfig holds default fixed-window rate-limit parameters for the webhook boundary.
type RateLimitConfig struct {
	PerIPLimit     int64
	PerIPWindowSec int
	GlobalLimit    int64
	GlobalWindowSec int
}

// Load reads configuration from the environment and validates it.
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:          serviceName,
			Port:          getEnvInt("PORT", 8080),
			Environment:   getEnv("ENVIRONMENT", "development"),
			LogLevel:      getEnv("LOG_LEVEL", "info"),
			LogFormat:     getEnv("LOG_FORMAT", "text"),
			PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "canvas_engine"),
			User:        getEnv("POSTGRES_USER", "canvas_engine"),
			Password:    getEnv("POSTGRES_PASSWORD", "canvas_engine"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 50),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 10),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Webhook: WebhookConfig{
			InternalServiceSecret: getEnv("INTERNAL_SERVICE_SECRET", ""),
		},
		RateLimit: RateLimitConfig{
			PerIPLimit:      int64(getEnvInt("WEBHOOK_PER_IP_LIMIT", 60)),
			PerIPWindowSec:  getEnvInt("WEBHOOK_PER_IP_WINDOW_SEC", 60),
			GlobalLimit:     int64(getEnvInt("WEBHOOK_GLOBAL_LIMIT", 1000)),
			GlobalWindowSec: getEnvInt("WEBHOOK_GLOBAL_WINDOW_SEC", 60),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks required configuration and aggregates every problem found,
// rather than failing on the first one, so boot-time misconfiguration is
// reported in full (§6 "missing required variables -> startup failure with
// enumerated list").
func (c *Config) Validate() error {
	var problems []string

	if c.Service.Port < 1 || c.Service.Port > 65535 {
		problems = append(problems, fmt.Sprintf("invalid port: %d", c.Service.Port))
	}
	if c.Database.Host == "" {
		problems = append(problems, "POSTGRES_HOST is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		problems = append(problems, "POSTGRES_MAX_CONNS must be >= POSTGRES_MIN_CONNS")
	}
	if c.Redis.Addr == "" {
		problems = append(problems, "REDIS_ADDR is required")
	}
	if c.Service.PublicBaseURL == "" {
		problems = append(problems, "PUBLIC_BASE_URL is required (used to build worker callback URLs)")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// DatabaseURL returns the PostgreSQL connection string.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// CallbackURL builds the callback URL a worker must call exactly once to
// report completion of the given node (§6 "Worker dispatch contract"). The
// URL is PublicBaseURL/callback/{runId}/{nodeId} and carries no signature.
func (c *Config) CallbackURL(runID, nodeID string) string {
	return fmt.Sprintf("%s/callback/%s/%s", strings.TrimRight(c.Service.PublicBaseURL, "/"), runID, nodeID)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

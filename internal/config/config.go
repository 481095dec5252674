// Package config provides environment-aware configuration management for
// the store, worker, scheduler, event bus, and fan-out components of this
// service via a getEnv/godotenv idiom.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment is the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Testing     Environment = "testing"
	Production  Environment = "production"
)

// Config holds all application configuration.
type Config struct {
	Env Environment

	// HTTP server
	HTTPPort        int
	ShutdownTimeout time.Duration

	// Shared store
	StoreBackend  string // "redis" or "memory"
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int

	// Worker runtime
	WorkerID              string
	WorkerType             string
	WorkerCapabilities     []string
	WorkerMaxConcurrency   int
	WorkerSpeedMultiplier  float64
	HeartbeatInterval      time.Duration

	// Scheduler
	SchedulerSweepInterval time.Duration
	DLQReprocessInterval   time.Duration

	// Event bus / aggregator
	EventRetention       time.Duration
	AggregatorFlushEvery time.Duration

	// Logging
	LogLevel  string
	LogFormat string
	LogOutput string

	// Metrics
	MetricsEnabled bool
	MetricsPort    int
}

// Load reads the deployment environment from APP_ENV, optionally loads a
// matching config/<env>.env file via godotenv, and populates Config from
// the process environment.
func Load() (*Config, error) {
	envStr := strings.ToLower(strings.TrimSpace(os.Getenv("APP_ENV")))
	if envStr == "" {
		envStr = string(Development)
	}
	env := Environment(envStr)
	switch env {
	case Development, Testing, Production:
	default:
		return nil, fmt.Errorf("invalid APP_ENV: %s (must be development, testing, or production)", envStr)
	}

	configFile := fmt.Sprintf("config/%s.env", env)
	if err := godotenv.Load(configFile); err != nil {
		if !os.IsNotExist(err) {
			fmt.Printf("warning: could not load %s: %v\n", configFile, err)
		}
	}

	cfg := &Config{Env: env}
	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFromEnv() error {
	c.HTTPPort = getIntEnv("HTTP_PORT", 8080)
	shutdownTimeout, err := time.ParseDuration(getEnv("SHUTDOWN_TIMEOUT", "15s"))
	if err != nil {
		return fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %w", err)
	}
	c.ShutdownTimeout = shutdownTimeout

	c.StoreBackend = getEnv("STORE_BACKEND", "memory")
	c.RedisAddr = getEnv("REDIS_ADDR", "localhost:6379")
	c.RedisPassword = getEnv("REDIS_PASSWORD", "")
	c.RedisDB = getIntEnv("REDIS_DB", 0)
	c.RedisPoolSize = getIntEnv("REDIS_POOL_SIZE", 10)

	c.WorkerID = getEnv("WORKER_ID", "")
	c.WorkerType = getEnv("WORKER_TYPE", "general")
	c.WorkerCapabilities = splitNonEmpty(getEnv("WORKER_CAPABILITIES", ""))
	c.WorkerMaxConcurrency = getIntEnv("WORKER_MAX_CONCURRENCY", 4)
	speed, err := strconv.ParseFloat(getEnv("WORKER_SPEED_MULTIPLIER", "1.0"), 64)
	if err != nil {
		return fmt.Errorf("invalid WORKER_SPEED_MULTIPLIER: %w", err)
	}
	c.WorkerSpeedMultiplier = speed
	heartbeat, err := time.ParseDuration(getEnv("HEARTBEAT_INTERVAL", "10s"))
	if err != nil {
		return fmt.Errorf("invalid HEARTBEAT_INTERVAL: %w", err)
	}
	c.HeartbeatInterval = heartbeat

	sweep, err := time.ParseDuration(getEnv("SCHEDULER_SWEEP_INTERVAL", "5m"))
	if err != nil {
		return fmt.Errorf("invalid SCHEDULER_SWEEP_INTERVAL: %w", err)
	}
	c.SchedulerSweepInterval = sweep
	dlq, err := time.ParseDuration(getEnv("DLQ_REPROCESS_INTERVAL", "1m"))
	if err != nil {
		return fmt.Errorf("invalid DLQ_REPROCESS_INTERVAL: %w", err)
	}
	c.DLQReprocessInterval = dlq

	eventRetention, err := time.ParseDuration(getEnv("EVENT_RETENTION", "24h"))
	if err != nil {
		return fmt.Errorf("invalid EVENT_RETENTION: %w", err)
	}
	c.EventRetention = eventRetention
	aggFlush, err := time.ParseDuration(getEnv("AGGREGATOR_FLUSH_INTERVAL", "1s"))
	if err != nil {
		return fmt.Errorf("invalid AGGREGATOR_FLUSH_INTERVAL: %w", err)
	}
	c.AggregatorFlushEvery = aggFlush

	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.LogFormat = getEnv("LOG_FORMAT", "text")
	c.LogOutput = getEnv("LOG_OUTPUT", "stdout")

	c.MetricsEnabled = getBoolEnv("METRICS_ENABLED", c.Env == Production)
	c.MetricsPort = getIntEnv("METRICS_PORT", 9090)

	return nil
}

func (c *Config) IsDevelopment() bool { return c.Env == Development }
func (c *Config) IsTesting() bool     { return c.Env == Testing }
func (c *Config) IsProduction() bool  { return c.Env == Production }

// Validate applies production-specific guardrails.
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP_PORT: %d", c.HTTPPort)
	}
	if c.WorkerMaxConcurrency < 1 {
		return fmt.Errorf("WORKER_MAX_CONCURRENCY must be >= 1")
	}
	if c.IsProduction() && c.StoreBackend != "redis" {
		return fmt.Errorf("STORE_BACKEND must be redis in production")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func splitNonEmpty(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

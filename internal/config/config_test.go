package config

import (
	"os"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_ENV", "HTTP_PORT", "SHUTDOWN_TIMEOUT", "STORE_BACKEND", "REDIS_ADDR",
		"REDIS_PASSWORD", "REDIS_DB", "REDIS_POOL_SIZE", "WORKER_ID", "WORKER_TYPE",
		"WORKER_CAPABILITIES", "WORKER_MAX_CONCURRENCY", "WORKER_SPEED_MULTIPLIER",
		"HEARTBEAT_INTERVAL", "SCHEDULER_SWEEP_INTERVAL", "DLQ_REPROCESS_INTERVAL",
		"EVENT_RETENTION", "AGGREGATOR_FLUSH_INTERVAL", "LOG_LEVEL", "LOG_FORMAT",
		"LOG_OUTPUT", "METRICS_ENABLED", "METRICS_PORT",
	}
	for _, k := range keys {
		os.Unsetenv(k)
	}
}

func TestLoadAppliesDefaultsWhenUnset(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Env != Development {
		t.Errorf("Env = %s, want development", cfg.Env)
	}
	if cfg.HTTPPort != 8080 {
		t.Errorf("HTTPPort = %d, want 8080", cfg.HTTPPort)
	}
	if cfg.ShutdownTimeout != 15*time.Second {
		t.Errorf("ShutdownTimeout = %s, want 15s", cfg.ShutdownTimeout)
	}
	if cfg.StoreBackend != "memory" {
		t.Errorf("StoreBackend = %s, want memory", cfg.StoreBackend)
	}
	if cfg.WorkerMaxConcurrency != 4 {
		t.Errorf("WorkerMaxConcurrency = %d, want 4", cfg.WorkerMaxConcurrency)
	}
	if cfg.WorkerSpeedMultiplier != 1.0 {
		t.Errorf("WorkerSpeedMultiplier = %v, want 1.0", cfg.WorkerSpeedMultiplier)
	}
	if cfg.WorkerCapabilities != nil {
		t.Errorf("WorkerCapabilities = %v, want nil", cfg.WorkerCapabilities)
	}
	if cfg.MetricsEnabled {
		t.Error("MetricsEnabled should default false outside production")
	}
}

func TestLoadRejectsInvalidAppEnv(t *testing.T) {
	clearEnv(t)
	os.Setenv("APP_ENV", "staging")
	defer clearEnv(t)

	if _, err := Load(); err == nil {
		t.Fatal("expected an error for an unrecognized APP_ENV")
	}
}

func TestLoadParsesOverriddenValues(t *testing.T) {
	clearEnv(t)
	os.Setenv("APP_ENV", "production")
	os.Setenv("HTTP_PORT", "9000")
	os.Setenv("STORE_BACKEND", "redis")
	os.Setenv("WORKER_CAPABILITIES", "gpu, embedding ,llm")
	os.Setenv("WORKER_SPEED_MULTIPLIER", "2.5")
	os.Setenv("HEARTBEAT_INTERVAL", "30s")
	os.Setenv("METRICS_ENABLED", "true")
	defer clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPPort != 9000 {
		t.Errorf("HTTPPort = %d, want 9000", cfg.HTTPPort)
	}
	if cfg.StoreBackend != "redis" {
		t.Errorf("StoreBackend = %s, want redis", cfg.StoreBackend)
	}
	if len(cfg.WorkerCapabilities) != 3 || cfg.WorkerCapabilities[0] != "gpu" || cfg.WorkerCapabilities[2] != "llm" {
		t.Errorf("WorkerCapabilities = %v, want [gpu embedding llm]", cfg.WorkerCapabilities)
	}
	if cfg.WorkerSpeedMultiplier != 2.5 {
		t.Errorf("WorkerSpeedMultiplier = %v, want 2.5", cfg.WorkerSpeedMultiplier)
	}
	if cfg.HeartbeatInterval != 30*time.Second {
		t.Errorf("HeartbeatInterval = %s, want 30s", cfg.HeartbeatInterval)
	}
	if !cfg.MetricsEnabled {
		t.Error("expected MetricsEnabled = true")
	}
}

func TestLoadRejectsMalformedDuration(t *testing.T) {
	clearEnv(t)
	os.Setenv("SHUTDOWN_TIMEOUT", "not-a-duration")
	defer clearEnv(t)

	if _, err := Load(); err == nil {
		t.Fatal("expected an error for a malformed SHUTDOWN_TIMEOUT")
	}
}

func TestLoadRejectsMalformedFloat(t *testing.T) {
	clearEnv(t)
	os.Setenv("WORKER_SPEED_MULTIPLIER", "fast")
	defer clearEnv(t)

	if _, err := Load(); err == nil {
		t.Fatal("expected an error for a malformed WORKER_SPEED_MULTIPLIER")
	}
}

func TestValidateRejectsOutOfRangePort(t *testing.T) {
	cfg := &Config{Env: Development, HTTPPort: 70000, WorkerMaxConcurrency: 1, StoreBackend: "memory"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for an out-of-range HTTP_PORT")
	}
}

func TestValidateRejectsZeroConcurrency(t *testing.T) {
	cfg := &Config{Env: Development, HTTPPort: 8080, WorkerMaxConcurrency: 0, StoreBackend: "memory"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for WORKER_MAX_CONCURRENCY < 1")
	}
}

func TestValidateRequiresRedisInProduction(t *testing.T) {
	cfg := &Config{Env: Production, HTTPPort: 8080, WorkerMaxConcurrency: 1, StoreBackend: "memory"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected production to require the redis store backend")
	}

	cfg.StoreBackend = "redis"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v, want nil with redis backend in production", err)
	}
}

func TestValidateAllowsMemoryStoreOutsideProduction(t *testing.T) {
	cfg := &Config{Env: Development, HTTPPort: 8080, WorkerMaxConcurrency: 1, StoreBackend: "memory"}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v, want nil", err)
	}
}

func TestEnvironmentPredicates(t *testing.T) {
	dev := &Config{Env: Development}
	if !dev.IsDevelopment() || dev.IsTesting() || dev.IsProduction() {
		t.Error("IsDevelopment/IsTesting/IsProduction mismatch for Development")
	}

	prod := &Config{Env: Production}
	if !prod.IsProduction() || prod.IsDevelopment() || prod.IsTesting() {
		t.Error("IsDevelopment/IsTesting/IsProduction mismatch for Production")
	}
}

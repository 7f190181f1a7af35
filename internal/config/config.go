// Package config loads register engine configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	apperrors "github.com/mwren/tillpoint/internal/errors"
)

// Config holds all register daemon configuration.
type Config struct {
	App      AppConfig
	Register RegisterConfig
	Backend  BackendConfig
	Sync     SyncConfig
	Probe    ProbeConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string // development, staging, production
	DataDir     string
	LogLevel    string
	LogFormat   string // json, text
}

// RegisterConfig identifies this register within the tenant.
type RegisterConfig struct {
	TenantID   string
	StoreID    string
	ListenAddr string
}

// BackendConfig holds the backend endpoint configuration.
type BackendConfig struct {
	BaseURL       string
	AuthToken     string
	SubmitTimeout time.Duration
	FetchTimeout  time.Duration
}

// SyncConfig holds synchronizer tuning.
type SyncConfig struct {
	Interval      time.Duration // periodic drain while online
	BackoffBase   time.Duration
	BackoffMax    time.Duration
	AlertPending  int // pending-queue depth that triggers operator alerting
	RetentionDays int // purge synced sales older than this; 0 disables
}

// ProbeConfig holds connectivity probe tuning.
type ProbeConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Load loads configuration from environment variables.
// A .env file is honored in development.
func Load() (*Config, error) {
	env := getEnv("TILLPOINT_ENV", "development")

	if env == "development" || env == "local" {
		// Missing .env is fine; environment variables still apply.
		_ = godotenv.Load()
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("TILLPOINT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	cfg := &Config{
		App: AppConfig{
			Environment: env,
			DataDir:     getEnv("TILLPOINT_DATA_DIR", "./data"),
			LogLevel:    getEnv("TILLPOINT_LOG_LEVEL", "info"),
			LogFormat:   getEnv("TILLPOINT_LOG_FORMAT", "json"),
		},
		Register: RegisterConfig{
			TenantID:   getEnv("TILLPOINT_TENANT_ID", ""),
			StoreID:    getEnv("TILLPOINT_STORE_ID", ""),
			ListenAddr: getEnv("TILLPOINT_LISTEN_ADDR", "localhost:8091"),
		},
		Backend: BackendConfig{
			BaseURL:       getEnv("TILLPOINT_BACKEND_URL", ""),
			AuthToken:     getEnv("TILLPOINT_AUTH_TOKEN", ""),
			SubmitTimeout: getDurationEnv("TILLPOINT_SUBMIT_TIMEOUT", 10*time.Second),
			FetchTimeout:  getDurationEnv("TILLPOINT_FETCH_TIMEOUT", 30*time.Second),
		},
		Sync: SyncConfig{
			Interval:      getDurationEnv("TILLPOINT_SYNC_INTERVAL", 5*time.Minute),
			BackoffBase:   getDurationEnv("TILLPOINT_BACKOFF_BASE", 2*time.Second),
			BackoffMax:    getDurationEnv("TILLPOINT_BACKOFF_MAX", 60*time.Second),
			AlertPending:  getIntEnv("TILLPOINT_SYNC_ALERT_PENDING", 25),
			RetentionDays: getIntEnv("TILLPOINT_QUEUE_RETENTION_DAYS", 90),
		},
		Probe: ProbeConfig{
			Interval: getDurationEnv("TILLPOINT_PROBE_INTERVAL", 15*time.Second),
			Timeout:  getDurationEnv("TILLPOINT_PROBE_TIMEOUT", 3*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrConfigInvalid, "configuration validation failed", err)
	}

	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Register.TenantID == "" {
		return fmt.Errorf("tenant id is required (TILLPOINT_TENANT_ID)")
	}
	if c.Register.StoreID == "" {
		return fmt.Errorf("store id is required (TILLPOINT_STORE_ID)")
	}
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend url is required (TILLPOINT_BACKEND_URL)")
	}
	if c.Sync.BackoffBase <= 0 || c.Sync.BackoffMax < c.Sync.BackoffBase {
		return fmt.Errorf("backoff max must be >= backoff base > 0")
	}
	if c.Sync.AlertPending <= 0 {
		return fmt.Errorf("sync alert threshold must be positive")
	}
	if c.Sync.RetentionDays < 0 {
		return fmt.Errorf("queue retention must be >= 0")
	}
	return nil
}

// IsProduction returns true if running in production.
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return defaultValue
}

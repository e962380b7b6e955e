// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for the cache database and backup staging
	Port     int
	LogLevel string
	DevMode  bool

	// Engine
	MaxWorkers   int     // upper bound for optimizer worker pool
	RiskFreeRate float64 // annual risk-free rate used by metrics (default 0.06)

	// Result cache
	CacheEnabled   bool
	CacheOpTimeout int // per-operation timeout in seconds
	CacheOpRetries int

	// Execution monitor
	HealthInterval   int // health sampler interval in seconds
	HistoryLimit     int // execution history ring-buffer capacity
	HealthSamples    int // health sample ring-buffer capacity
	RetentionDays    int // default retention for monitor cleanup
	CleanupScheduled bool

	// Backup (optional, disabled unless endpoint+bucket configured)
	Backup *BackupConfig
}

// BackupConfig holds S3-compatible backup configuration
type BackupConfig struct {
	Endpoint        string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	RetentionDays   int
}

// Enabled reports whether backups are configured.
func (b *BackupConfig) Enabled() bool {
	return b != nil && b.Endpoint != "" && b.Bucket != ""
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("SIGNALBENCH_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:          absDataDir,
		Port:             getEnvAsInt("PORT", 8000),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		DevMode:          getEnvAsBool("DEV_MODE", false),
		MaxWorkers:       getEnvAsInt("MAX_WORKERS", defaultWorkers()),
		RiskFreeRate:     getEnvAsFloat("RISK_FREE_RATE", 0.06),
		CacheEnabled:     getEnvAsBool("CACHE_ENABLED", true),
		CacheOpTimeout:   getEnvAsInt("CACHE_OP_TIMEOUT_SECONDS", 5),
		CacheOpRetries:   getEnvAsInt("CACHE_OP_RETRIES", 3),
		HealthInterval:   getEnvAsInt("HEALTH_INTERVAL_SECONDS", 30),
		HistoryLimit:     getEnvAsInt("EXECUTION_HISTORY_LIMIT", 10000),
		HealthSamples:    getEnvAsInt("HEALTH_SAMPLE_LIMIT", 1000),
		RetentionDays:    getEnvAsInt("MONITOR_RETENTION_DAYS", 30),
		CleanupScheduled: getEnvAsBool("MAINTENANCE_JOBS_ENABLED", true),
		Backup:           loadBackupConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.HealthInterval <= 0 {
		return fmt.Errorf("health interval must be positive, got %d", c.HealthInterval)
	}
	return nil
}

// defaultWorkers returns the default optimizer pool upper bound.
// The optimizer clamps this further per request.
func defaultWorkers() int {
	n := runtime.NumCPU() - 1
	if n < 1 {
		n = 1
	}
	if n > 8 {
		n = 8
	}
	return n
}

// loadBackupConfig returns backup settings, or nil when not configured.
func loadBackupConfig() *BackupConfig {
	endpoint := getEnv("BACKUP_S3_ENDPOINT", "")
	bucket := getEnv("BACKUP_S3_BUCKET", "")
	if endpoint == "" || bucket == "" {
		return nil
	}

	return &BackupConfig{
		Endpoint:        endpoint,
		Bucket:          bucket,
		AccessKeyID:     getEnv("BACKUP_S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: getEnv("BACKUP_S3_SECRET_ACCESS_KEY", ""),
		Region:          getEnv("BACKUP_S3_REGION", "auto"),
		RetentionDays:   getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
	}
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

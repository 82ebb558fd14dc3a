// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for the monitor database (always absolute)
	LogLevel string
	Port     int
	DevMode  bool

	Pipeline PipelineConfig
	Monitor  MonitorConfig
	LLM      LLMConfig
	Sources  SourcesConfig
	Backup   BackupConfig
}

// PipelineConfig tunes the aggregation fan-out.
type PipelineConfig struct {
	WorkerPoolSize int
	FetchTimeout   time.Duration // per branch
	FetchRetries   int           // attempts per branch, including the first
	RetryDelay     time.Duration
}

// MonitorConfig tunes the monitoring scheduler.
type MonitorConfig struct {
	PausePoll    time.Duration // re-check interval while paused or before the open
	TimeZone     string
	HolidayDates []string // YYYY-MM-DD, treated as non-trading days
}

// LLMConfig selects and configures the inference engine.
type LLMConfig struct {
	Provider    string // openai, claude, gemini
	Model       string
	APIKey      string
	BaseURL     string // OpenAI-compatible endpoints only
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
}

// SourcesConfig points the data fetchers at their upstreams.
type SourcesConfig struct {
	MarketDataBaseURL string
	NewsBaseURL       string
	RequestsPerSecond float64
}

// BackupConfig configures offsite snapshots of the monitor database.
// Backups are disabled when Bucket is empty.
type BackupConfig struct {
	Bucket        string
	Endpoint      string
	Region        string
	AccessKey     string
	SecretKey     string
	Prefix        string
	Schedule      string // cron spec
	RetentionDays int    // 0 keeps every archive
}

// Enabled reports whether offsite backups are configured.
func (b BackupConfig) Enabled() bool {
	return b.Bucket != ""
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("STOCKWATCH_DATA_DIR", "./data")

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("PORT", 8080),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Pipeline: PipelineConfig{
			WorkerPoolSize: getEnvAsInt("WORKER_POOL_SIZE", 16),
			FetchTimeout:   getEnvAsDuration("FETCH_TIMEOUT", 30*time.Second),
			FetchRetries:   getEnvAsInt("FETCH_RETRIES", 3),
			RetryDelay:     getEnvAsDuration("FETCH_RETRY_DELAY", time.Second),
		},
		Monitor: MonitorConfig{
			PausePoll:    getEnvAsDuration("MONITOR_PAUSE_POLL", 5*time.Minute),
			TimeZone:     getEnv("MARKET_TIMEZONE", "Asia/Shanghai"),
			HolidayDates: getEnvAsList("TRADING_HOLIDAYS"),
		},
		LLM: LLMConfig{
			Provider:    getEnv("LLM_PROVIDER", "openai"),
			Model:       getEnv("LLM_MODEL", ""),
			APIKey:      getEnv("LLM_API_KEY", ""),
			BaseURL:     getEnv("LLM_BASE_URL", ""),
			Timeout:     getEnvAsDuration("LLM_TIMEOUT", 3*time.Minute),
			Temperature: getEnvAsFloat("LLM_TEMPERATURE", 0.3),
			MaxTokens:   getEnvAsInt("LLM_MAX_TOKENS", 4096),
		},
		Sources: SourcesConfig{
			MarketDataBaseURL: getEnv("MARKET_DATA_BASE_URL", "http://localhost:9100"),
			NewsBaseURL:       getEnv("NEWS_BASE_URL", "http://localhost:9100"),
			RequestsPerSecond: getEnvAsFloat("MARKET_DATA_RPS", 5),
		},
		Backup: BackupConfig{
			Bucket:    getEnv("BACKUP_S3_BUCKET", ""),
			Endpoint:  getEnv("BACKUP_S3_ENDPOINT", ""),
			Region:    getEnv("BACKUP_S3_REGION", "auto"),
			AccessKey: getEnv("BACKUP_S3_ACCESS_KEY", ""),
			SecretKey: getEnv("BACKUP_S3_SECRET_KEY", ""),
			Prefix:    getEnv("BACKUP_S3_PREFIX", "stockwatch"),
			Schedule:  getEnv("BACKUP_CRON", "0 16 * * 1-5"),
		},
	}

	// Validate required fields
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
	if c.Pipeline.WorkerPoolSize < 1 {
		return fmt.Errorf("WORKER_POOL_SIZE must be at least 1, got %d", c.Pipeline.WorkerPoolSize)
	}
	if c.Pipeline.FetchRetries < 1 {
		return fmt.Errorf("FETCH_RETRIES must be at least 1, got %d", c.Pipeline.FetchRetries)
	}

	switch c.LLM.Provider {
	case "openai", "claude", "gemini":
	default:
		return fmt.Errorf("unsupported LLM_PROVIDER %q (expected openai, claude or gemini)", c.LLM.Provider)
	}

	if _, err := time.LoadLocation(c.Monitor.TimeZone); err != nil {
		return fmt.Errorf("invalid MARKET_TIMEZONE %q: %w", c.Monitor.TimeZone, err)
	}
	for _, d := range c.Monitor.HolidayDates {
		if _, err := time.Parse("2006-01-02", d); err != nil {
			return fmt.Errorf("invalid TRADING_HOLIDAYS entry %q: %w", d, err)
		}
	}

	if c.Backup.Enabled() && (c.Backup.AccessKey == "" || c.Backup.SecretKey == "") {
		return fmt.Errorf("BACKUP_S3_BUCKET is set but S3 credentials are missing")
	}

	// LLM_API_KEY is optional: without it analysis runs return a synthetic result
	return nil
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
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

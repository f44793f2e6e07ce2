package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Port     int
	DBPath   string
	DBDriver string // "sqlite" (pure Go) or "sqlite3" (cgo)

	RetentionDays        int
	RetentionDaysFromEnv bool // set by env var (locked in UI)

	// Pre-filled range on the form
	DefaultFirst int64
	DefaultLast  int64

	// How often a running scan persists its progress
	ProgressInterval time.Duration
}

// Load reads configuration from environment variables
func Load() *Config {
	cfg := &Config{
		Port:             getEnvInt("PRIMESCAN_PORT", 8080),
		DBPath:           getEnv("PRIMESCAN_DB_PATH", "./data/primescan.db"),
		DBDriver:         getEnv("PRIMESCAN_DB_DRIVER", "sqlite"),
		RetentionDays:    getEnvInt("PRIMESCAN_RETENTION_DAYS", 30),
		DefaultFirst:     int64(getEnvInt("PRIMESCAN_DEFAULT_FIRST", 1)),
		DefaultLast:      int64(getEnvInt("PRIMESCAN_DEFAULT_LAST", 10000)),
		ProgressInterval: getEnvDuration("PRIMESCAN_PROGRESS_INTERVAL", 500*time.Millisecond),
	}
	cfg.RetentionDaysFromEnv = os.Getenv("PRIMESCAN_RETENTION_DAYS") != ""

	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil && d > 0 {
			return d
		}
	}
	return defaultVal
}

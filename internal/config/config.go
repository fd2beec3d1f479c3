package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the service configuration loaded from the environment.
type Config struct {
	// HTTP server
	ListenAddr string

	// Recognition backend base URL. May be empty: recognition is then
	// unavailable and reported per call, the service itself still starts.
	RecognitionURL string

	// Face detection cascade classifier file.
	CascadePath string

	// Directory the host camera/picker spools captured frames into.
	SpoolDir string

	// Interval of the periodic frame capture loop.
	StreamInterval time.Duration

	// Persistence and cache
	DatabaseDSN string
	RedisAddr   string

	// Auth
	JWTSecret   string
	JWTAudience string

	// Upload limits
	MaxUploadSize int64
}

// Load reads configuration from the environment, with .env support for
// local development. Absence of the .env file is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:     getEnvOrDefault("LISTEN_ADDR", ":8080"),
		RecognitionURL: os.Getenv("API_URL"),
		CascadePath:    getEnvOrDefault("CASCADE_PATH", "/usr/share/facegate/facefinder"),
		SpoolDir:       getEnvOrDefault("SPOOL_DIR", "/var/spool/facegate"),
		StreamInterval: getEnvAsDurationOrDefault("STREAM_INTERVAL", time.Second),
		DatabaseDSN:    getEnvOrDefault("DATABASE_DSN", "host=postgres user=postgres password=postgres dbname=facegate port=5432 sslmode=disable"),
		RedisAddr:      getEnvOrDefault("REDIS_ADDR", "redis:6379"),
		JWTSecret:      getEnvOrDefault("JWT_SECRET", "dev-secret"),
		JWTAudience:    os.Getenv("JWT_AUDIENCE"),
		MaxUploadSize:  getEnvAsInt64OrDefault("MAX_UPLOAD_SIZE", 8<<20),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if configuration is valid.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("LISTEN_ADDR is required")
	}

	if c.StreamInterval < 100*time.Millisecond {
		return fmt.Errorf("STREAM_INTERVAL must be at least 100ms, got %s", c.StreamInterval)
	}

	if c.MaxUploadSize < 1024 || c.MaxUploadSize > 64<<20 {
		return fmt.Errorf("MAX_UPLOAD_SIZE must be between 1KB and 64MB, got %d", c.MaxUploadSize)
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt64OrDefault(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

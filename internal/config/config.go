package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port        int
	Environment string
	LogLevel    string

	DatabaseURL string
	RedisURL    string

	// RegionsFile is the YAML region table, see LoadRegions.
	RegionsFile string

	JWTSecret string

	TranscoderCallbackURL    string
	TranscoderCallbackSecret string
	// DevTranscoderURL, when set, receives every transcode request over HTTP.
	DevTranscoderURL string

	UploadURLExpiry        time.Duration
	UploadWindow           time.Duration
	StaleTranscodeDeadline time.Duration
	ClosedAccountGrace     time.Duration
	CleanupBatchSize       int

	UploadRateLimit  int
	UploadRateWindow time.Duration

	TracingEnabled  bool
	OTLPEndpoint    string
	TraceSampleRate float64
}

func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	cfg.Port = getEnvInt("PORT", 8080)
	cfg.Environment = getEnvString("ENVIRONMENT", "development")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")
	cfg.RegionsFile = getEnvString("REGIONS_FILE", "regions.yaml")

	cfg.JWTSecret = getEnvString("JWT_SECRET", "change-me-in-production")

	cfg.TranscoderCallbackURL = getEnvString("TRANSCODER_CALLBACK_URL", "http://localhost:8080/internal/transcoder/callback")
	cfg.TranscoderCallbackSecret = os.Getenv("TRANSCODER_CALLBACK_SECRET")
	cfg.DevTranscoderURL = os.Getenv("DEV_TRANSCODER_URL")

	cfg.UploadURLExpiry, err = getEnvDuration("UPLOAD_URL_EXPIRY", "1h")
	if err != nil {
		return nil, fmt.Errorf("invalid UPLOAD_URL_EXPIRY: %w", err)
	}
	cfg.UploadWindow, err = getEnvDuration("UPLOAD_WINDOW", "3h")
	if err != nil {
		return nil, fmt.Errorf("invalid UPLOAD_WINDOW: %w", err)
	}
	cfg.StaleTranscodeDeadline, err = getEnvDuration("STALE_TRANSCODE_DEADLINE", "6h")
	if err != nil {
		return nil, fmt.Errorf("invalid STALE_TRANSCODE_DEADLINE: %w", err)
	}
	cfg.ClosedAccountGrace, err = getEnvDuration("CLOSED_ACCOUNT_GRACE", "168h")
	if err != nil {
		return nil, fmt.Errorf("invalid CLOSED_ACCOUNT_GRACE: %w", err)
	}
	cfg.CleanupBatchSize = getEnvInt("CLEANUP_BATCH_SIZE", 100)

	cfg.UploadRateLimit = getEnvInt("UPLOAD_RATE_LIMIT", 60)
	cfg.UploadRateWindow, err = getEnvDuration("UPLOAD_RATE_WINDOW", "1m")
	if err != nil {
		return nil, fmt.Errorf("invalid UPLOAD_RATE_WINDOW: %w", err)
	}

	cfg.TracingEnabled = getEnvBool("TRACING_ENABLED", false)
	cfg.OTLPEndpoint = getEnvString("OTLP_ENDPOINT", "localhost:4317")
	cfg.TraceSampleRate = getEnvFloat("TRACE_SAMPLE_RATE", 1.0)

	return cfg, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key, defaultValue string) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		value = defaultValue
	}
	return time.ParseDuration(value)
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	if c.UploadURLExpiry <= 0 || c.UploadWindow <= 0 {
		return fmt.Errorf("upload expiry and window must be positive")
	}

	if c.StaleTranscodeDeadline <= 0 {
		return fmt.Errorf("invalid stale transcode deadline: %s", c.StaleTranscodeDeadline)
	}

	if c.CleanupBatchSize < 1 {
		return fmt.Errorf("invalid cleanup batch size: %d", c.CleanupBatchSize)
	}

	if c.TraceSampleRate < 0 || c.TraceSampleRate > 1 {
		return fmt.Errorf("invalid trace sample rate: %v", c.TraceSampleRate)
	}

	if c.Environment == "production" {
		if c.JWTSecret == "change-me-in-production" {
			return fmt.Errorf("JWT_SECRET must be set in production")
		}
		if c.TranscoderCallbackSecret == "" {
			return fmt.Errorf("TRANSCODER_CALLBACK_SECRET must be set in production")
		}
	}

	return nil
}

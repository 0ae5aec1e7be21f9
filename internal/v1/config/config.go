package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds validated environment configuration
type Config struct {
	// Required variables
	Port string

	// Relay surface
	RelayPath      string
	DefaultRoom    string
	RoomCapacity   int
	AllowedOrigins string

	// Session protection
	SessionErrorThreshold int
	SendQueueSize         int
	RateLimitWsIP         string

	// Optional variables with defaults
	GoEnv           string
	LogLevel        string
	DevelopmentMode bool

	// Tracing (enabled only when the collector address is set)
	OtelCollectorAddr string
}

// ValidateEnv validates all required environment variables and returns a Config object
// Returns an error if any required variable is missing or invalid
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	// Required: PORT (valid port number)
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		errors = append(errors, "PORT is required")
	} else {
		port, err := strconv.Atoi(cfg.Port)
		if err != nil || port < 1 || port > 65535 {
			errors = append(errors, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
		}
	}

	// Optional: RELAY_PATH (defaults to "/yjs", must start with "/")
	cfg.RelayPath = getEnvOrDefault("RELAY_PATH", "/yjs")
	if !strings.HasPrefix(cfg.RelayPath, "/") {
		errors = append(errors, fmt.Sprintf("RELAY_PATH must start with '/' (got '%s')", cfg.RelayPath))
	}

	// Optional: DEFAULT_ROOM (room-name fallback when the query param is absent)
	cfg.DefaultRoom = getEnvOrDefault("DEFAULT_ROOM", "bytetogether")

	// Optional: ROOM_CAPACITY (defaults to 5, must be positive)
	capacityStr := getEnvOrDefault("ROOM_CAPACITY", "5")
	capacity, err := strconv.Atoi(capacityStr)
	if err != nil || capacity < 1 {
		errors = append(errors, fmt.Sprintf("ROOM_CAPACITY must be a positive integer (got '%s')", capacityStr))
	} else {
		cfg.RoomCapacity = capacity
	}

	// Optional: SESSION_ERROR_THRESHOLD (protocol violations tolerated before close)
	thresholdStr := getEnvOrDefault("SESSION_ERROR_THRESHOLD", "10")
	threshold, err := strconv.Atoi(thresholdStr)
	if err != nil || threshold < 1 {
		errors = append(errors, fmt.Sprintf("SESSION_ERROR_THRESHOLD must be a positive integer (got '%s')", thresholdStr))
	} else {
		cfg.SessionErrorThreshold = threshold
	}

	// Optional: SEND_QUEUE_SIZE (per-session outbound queue bound)
	queueStr := getEnvOrDefault("SEND_QUEUE_SIZE", "256")
	queue, err := strconv.Atoi(queueStr)
	if err != nil || queue < 1 {
		errors = append(errors, fmt.Sprintf("SEND_QUEUE_SIZE must be a positive integer (got '%s')", queueStr))
	} else {
		cfg.SendQueueSize = queue
	}

	// Optional: GO_ENV (defaults to "production")
	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")

	// Optional: LOG_LEVEL (defaults to "info")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")
	cfg.OtelCollectorAddr = os.Getenv("OTEL_COLLECTOR_ADDR")

	// Rate Limits (Defaults: M = Minute, H = Hour)
	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "100-M")

	// If there are validation errors, return them
	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	logValidatedConfig(cfg)

	return cfg, nil
}

// logValidatedConfig logs the validated configuration
func logValidatedConfig(cfg *Config) {
	slog.Info("✅ Environment configuration validated successfully")
	slog.Info("Configuration",
		"port", cfg.Port,
		"relay_path", cfg.RelayPath,
		"default_room", cfg.DefaultRoom,
		"room_capacity", cfg.RoomCapacity,
		"allowed_origins", cfg.AllowedOrigins,
		"session_error_threshold", cfg.SessionErrorThreshold,
		"send_queue_size", cfg.SendQueueSize,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"development_mode", cfg.DevelopmentMode,
		"rate_limit_ws_ip", cfg.RateLimitWsIP,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

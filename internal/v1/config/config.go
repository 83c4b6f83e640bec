package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Config holds validated environment configuration
type Config struct {
	// Required variables
	Port string

	// Node identity on the federation bus
	ServerID string

	// Federation (optional)
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	BusChannel    string

	// Tracing (optional)
	OtelCollectorAddr string

	// Room defaults
	DefaultMode  string
	DefaultTopic string

	// Bounded-resource knobs
	SeenIDLimit     int
	SendBufferLimit int

	// Optional variables with defaults
	GoEnv           string
	LogLevel        string
	DevelopmentMode bool
	AllowedOrigins  string

	// Rate Limits (format: "<count>-<period>", e.g. "100-M")
	RateLimitWsIP    string
	RateLimitWsAgent string
}

const (
	DefaultSeenIDLimit     = 10000
	DefaultSendBufferLimit = 256
)

// ValidateEnv validates all required environment variables and returns a Config object.
// Returns an error if any required variable is missing or invalid.
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

	// Optional: SERVER_ID (defaults to a random id; distinguishes this node on the bus)
	cfg.ServerID = os.Getenv("SERVER_ID")
	if cfg.ServerID == "" {
		cfg.ServerID = "node-" + uuid.NewString()[:8]
		slog.Info("SERVER_ID not set, generated one", "server_id", cfg.ServerID)
	}

	// Conditional: REDIS_ADDR (required if REDIS_ENABLED=true)
	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			// Default to localhost:6379 if not specified
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errors = append(errors, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	// Optional: BUS_CHANNEL (one channel per logical deployment)
	cfg.BusChannel = getEnvOrDefault("BUS_CHANNEL", "parley:rooms")

	// Optional: OTEL_COLLECTOR_ADDR (tracing disabled when unset)
	cfg.OtelCollectorAddr = os.Getenv("OTEL_COLLECTOR_ADDR")
	if cfg.OtelCollectorAddr != "" && !isValidHostPort(cfg.OtelCollectorAddr) {
		errors = append(errors, fmt.Sprintf("OTEL_COLLECTOR_ADDR must be in format 'host:port' (got '%s')", cfg.OtelCollectorAddr))
	}

	// Optional: DEFAULT_MODE (quick or deep, defaults to "deep")
	cfg.DefaultMode = getEnvOrDefault("DEFAULT_MODE", "deep")
	if cfg.DefaultMode != "quick" && cfg.DefaultMode != "deep" {
		errors = append(errors, fmt.Sprintf("DEFAULT_MODE must be 'quick' or 'deep' (got '%s')", cfg.DefaultMode))
	}

	// Optional: DEFAULT_TOPIC (when set, JOIN without a room id lazily creates the default room)
	cfg.DefaultTopic = os.Getenv("DEFAULT_TOPIC")

	// Optional: SEEN_ID_LIMIT (bus dedup LRU capacity)
	var err error
	cfg.SeenIDLimit, err = getEnvIntOrDefault("SEEN_ID_LIMIT", DefaultSeenIDLimit)
	if err != nil || cfg.SeenIDLimit < 1 {
		errors = append(errors, fmt.Sprintf("SEEN_ID_LIMIT must be a positive integer (got '%s')", os.Getenv("SEEN_ID_LIMIT")))
	}

	// Optional: SEND_BUFFER_LIMIT (max queued outbound frames per connection)
	cfg.SendBufferLimit, err = getEnvIntOrDefault("SEND_BUFFER_LIMIT", DefaultSendBufferLimit)
	if err != nil || cfg.SendBufferLimit < 1 {
		errors = append(errors, fmt.Sprintf("SEND_BUFFER_LIMIT must be a positive integer (got '%s')", os.Getenv("SEND_BUFFER_LIMIT")))
	}

	// Optional: GO_ENV (defaults to "production")
	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")

	// Optional: LOG_LEVEL (defaults to "info")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	// Rate Limits (Defaults: M = Minute, H = Hour)
	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "100-M")
	cfg.RateLimitWsAgent = getEnvOrDefault("RATE_LIMIT_WS_AGENT", "10-M")

	// If there are validation errors, return them
	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	logValidatedConfig(cfg)

	return cfg, nil
}

// isValidHostPort checks if a string is in the format "host:port"
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	// Validate port is a number
	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	// Validate host is not empty
	if parts[0] == "" {
		return false
	}

	return true
}

// logValidatedConfig logs the validated configuration with secrets redacted
func logValidatedConfig(cfg *Config) {
	slog.Info("✅ Environment configuration validated successfully")
	slog.Info("Configuration",
		"port", cfg.Port,
		"server_id", cfg.ServerID,
		"redis_enabled", cfg.RedisEnabled,
		"redis_addr", cfg.RedisAddr,
		"bus_channel", cfg.BusChannel,
		"otel_collector_addr", cfg.OtelCollectorAddr,
		"default_mode", cfg.DefaultMode,
		"default_topic", cfg.DefaultTopic,
		"seen_id_limit", cfg.SeenIDLimit,
		"send_buffer_limit", cfg.SendBufferLimit,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"development_mode", cfg.DevelopmentMode,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvIntOrDefault returns the integer value of the environment variable or a default if not set
func getEnvIntOrDefault(key string, defaultValue int) (int, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultValue, nil
	}
	return strconv.Atoi(value)
}

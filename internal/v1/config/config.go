package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated environment configuration
type Config struct {
	// Required variables
	Port       string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Optional variables with defaults
	GoEnv         string
	LogLevel      string
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	// Room behavior knobs
	ReconnectGraceSeconds  int
	MaxAdventureLogs       int
	PresignedURLExpirySecs int
	APISiteBaseURL         string
	SessionControlSecret   string
	TracingEnabled         bool
	OTelCollectorAddr      string

	// Rate Limits
	RateLimitApiGlobal string
	RateLimitApiRooms  string
	RateLimitWsIp      string
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

	// Required: document store connection
	cfg.DBHost = os.Getenv("GAME_DB_HOST")
	if cfg.DBHost == "" {
		errors = append(errors, "GAME_DB_HOST is required")
	}
	cfg.DBPort = getEnvOrDefault("GAME_DB_PORT", "5432")
	if port, err := strconv.Atoi(cfg.DBPort); err != nil || port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("GAME_DB_PORT must be a valid port number (got '%s')", cfg.DBPort))
	}
	cfg.DBUser = os.Getenv("GAME_DB_USER")
	if cfg.DBUser == "" {
		errors = append(errors, "GAME_DB_USER is required")
	}
	cfg.DBPassword = os.Getenv("GAME_DB_PASSWORD")
	if cfg.DBPassword == "" {
		errors = append(errors, "GAME_DB_PASSWORD is required")
	}
	cfg.DBName = getEnvOrDefault("GAME_DB_NAME", "rollplay")

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

	// Optional: GO_ENV (defaults to "production")
	cfg.GoEnv = os.Getenv("GO_ENV")
	if cfg.GoEnv == "" {
		cfg.GoEnv = "production"
	}

	// Optional: LOG_LEVEL (defaults to "info")
	cfg.LogLevel = os.Getenv("LOG_LEVEL")
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	// Room behavior knobs, all bounded below by sane minimums
	var err error
	cfg.ReconnectGraceSeconds, err = getEnvIntOrDefault("RECONNECT_GRACE_SECONDS", 30)
	if err != nil {
		errors = append(errors, err.Error())
	} else if cfg.ReconnectGraceSeconds < 0 {
		errors = append(errors, "RECONNECT_GRACE_SECONDS must not be negative")
	}
	cfg.MaxAdventureLogs, err = getEnvIntOrDefault("MAX_ADVENTURE_LOGS", 200)
	if err != nil {
		errors = append(errors, err.Error())
	} else if cfg.MaxAdventureLogs < 1 {
		errors = append(errors, "MAX_ADVENTURE_LOGS must be at least 1")
	}
	cfg.PresignedURLExpirySecs, err = getEnvIntOrDefault("PRESIGNED_URL_EXPIRY_SECONDS", 3600)
	if err != nil {
		errors = append(errors, err.Error())
	}

	// Optional: API_SITE_BASE_URL (asset URL refresh disabled when unset)
	cfg.APISiteBaseURL = os.Getenv("API_SITE_BASE_URL")
	if cfg.APISiteBaseURL != "" {
		if _, err := url.ParseRequestURI(cfg.APISiteBaseURL); err != nil {
			errors = append(errors, fmt.Sprintf("API_SITE_BASE_URL must be a valid URL (got '%s')", cfg.APISiteBaseURL))
		}
	}

	// Optional: SESSION_CONTROL_SECRET guards the session control plane when set
	cfg.SessionControlSecret = os.Getenv("SESSION_CONTROL_SECRET")
	if cfg.SessionControlSecret != "" && len(cfg.SessionControlSecret) < 32 {
		errors = append(errors, fmt.Sprintf("SESSION_CONTROL_SECRET must be at least 32 characters (got %d)", len(cfg.SessionControlSecret)))
	}

	// Conditional: OTEL_COLLECTOR_ADDR (required if TRACING_ENABLED=true)
	cfg.TracingEnabled = os.Getenv("TRACING_ENABLED") == "true"
	if cfg.TracingEnabled {
		cfg.OTelCollectorAddr = os.Getenv("OTEL_COLLECTOR_ADDR")
		if cfg.OTelCollectorAddr == "" {
			errors = append(errors, "OTEL_COLLECTOR_ADDR is required when TRACING_ENABLED=true")
		} else if !isValidHostPort(cfg.OTelCollectorAddr) {
			errors = append(errors, fmt.Sprintf("OTEL_COLLECTOR_ADDR must be in format 'host:port' (got '%s')", cfg.OTelCollectorAddr))
		}
	}

	// Rate Limits (Defaults: M = Minute, H = Hour)
	cfg.RateLimitApiGlobal = getEnvOrDefault("RATE_LIMIT_API_GLOBAL", "1000-M")
	cfg.RateLimitApiRooms = getEnvOrDefault("RATE_LIMIT_API_ROOMS", "300-M")
	cfg.RateLimitWsIp = getEnvOrDefault("RATE_LIMIT_WS_IP", "60-M")

	// If there are validation errors, return them
	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	// Log validated configuration (with secrets redacted)
	logValidatedConfig(cfg)

	return cfg, nil
}

// DatabaseDSN assembles the document-store connection string.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		url.QueryEscape(c.DBUser), url.QueryEscape(c.DBPassword), c.DBHost, c.DBPort, c.DBName)
}

// ReconnectGrace is the grace window as a duration.
func (c *Config) ReconnectGrace() time.Duration {
	return time.Duration(c.ReconnectGraceSeconds) * time.Second
}

// PresignedURLExpiry is the asset URL lifetime as a duration.
func (c *Config) PresignedURLExpiry() time.Duration {
	return time.Duration(c.PresignedURLExpirySecs) * time.Second
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
		"db_host", cfg.DBHost,
		"db_name", cfg.DBName,
		"db_password", redactSecret(cfg.DBPassword),
		"redis_enabled", cfg.RedisEnabled,
		"redis_addr", cfg.RedisAddr,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"reconnect_grace_seconds", cfg.ReconnectGraceSeconds,
		"max_adventure_logs", cfg.MaxAdventureLogs,
		"api_site_base_url", cfg.APISiteBaseURL,
		"session_control_secret", redactSecret(cfg.SessionControlSecret),
		"tracing_enabled", cfg.TracingEnabled,
		"rate_limit_api_global", cfg.RateLimitApiGlobal,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvIntOrDefault parses an integer environment variable with a default.
func getEnvIntOrDefault(key string, defaultValue int) (int, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer (got '%s')", key, value)
	}
	return n, nil
}

// redactSecret redacts a secret by showing only the first 8 characters
func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}

// Package config loads finboard settings from the environment.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"finboard/internal/core"
)

type Config struct {
	// HTTP Server
	Port             string
	RefreshRateLimit int
	ShutdownTimeout  time.Duration

	// Backend API
	APIBaseURL        string
	APIToken          string
	APITimeout        time.Duration
	APIMaxRetries     int
	APIRetryBaseDelay time.Duration

	// Dashboard store
	RefreshDebounce   time.Duration
	DefaultFilter     string
	SnapshotCacheSize int
	SnapshotCacheTTL  time.Duration

	// AMQP; an empty URL disables change events
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	LogLevel string

	// problems collects values that could not be parsed during Load.
	problems []string
}

// Load reads the configuration from the environment, applying defaults for
// unset variables. Malformed values are reported by Validate.
func Load() *Config {
	cfg := &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		APIBaseURL: getEnv("API_BASE_URL", "http://localhost:5000/api"),
		APIToken:   getEnv("API_TOKEN", ""),

		DefaultFilter: getEnv("DEFAULT_FILTER", string(core.FilterAll)),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "finboard"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "finboard.dashboard"),
	}

	cfg.RefreshRateLimit = cfg.getEnvInt("REFRESH_RATE_LIMIT", 30)
	cfg.ShutdownTimeout = cfg.getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	cfg.APITimeout = cfg.getEnvDuration("API_TIMEOUT", 10*time.Second)
	cfg.APIMaxRetries = cfg.getEnvInt("API_MAX_RETRIES", 2)
	cfg.APIRetryBaseDelay = cfg.getEnvDuration("API_RETRY_BASE_DELAY", 200*time.Millisecond)
	cfg.RefreshDebounce = cfg.getEnvDuration("REFRESH_DEBOUNCE", 250*time.Millisecond)
	cfg.SnapshotCacheSize = cfg.getEnvInt("SNAPSHOT_CACHE_SIZE", 16)
	cfg.SnapshotCacheTTL = cfg.getEnvDuration("SNAPSHOT_CACHE_TTL", 5*time.Minute)

	return cfg
}

// EventsEnabled reports whether an AMQP broker is configured.
func (c *Config) EventsEnabled() bool {
	return c.AMQPURL != ""
}

// InitialFilter returns the preset named by DefaultFilter.
func (c *Config) InitialFilter() (core.DateFilter, error) {
	t, err := core.ParseFilterType(c.DefaultFilter)
	if err != nil {
		return core.DateFilter{}, err
	}
	if t == core.FilterCustom {
		return core.DateFilter{}, fmt.Errorf("%w: the default filter must be a preset", core.ErrInvalidFilter)
	}
	return core.Preset(t), nil
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	errors := append([]string(nil), c.problems...)

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	// Validate backend URL
	if c.APIBaseURL == "" {
		errors = append(errors, "API base URL is required")
	} else if u, err := url.Parse(c.APIBaseURL); err != nil {
		errors = append(errors, fmt.Sprintf("invalid API base URL '%s': %v", c.APIBaseURL, err))
	} else if u.Scheme != "http" && u.Scheme != "https" {
		errors = append(errors, fmt.Sprintf("invalid API base URL scheme '%s': must be 'http' or 'https'", u.Scheme))
	} else if u.Host == "" {
		errors = append(errors, fmt.Sprintf("invalid API base URL '%s': missing host", c.APIBaseURL))
	}

	if c.APITimeout < 100*time.Millisecond || c.APITimeout > 5*time.Minute {
		errors = append(errors, fmt.Sprintf("invalid API timeout %v: must be between 100ms and 5m", c.APITimeout))
	}
	if c.APIMaxRetries < 0 || c.APIMaxRetries > 10 {
		errors = append(errors, fmt.Sprintf("invalid API max retries %d: must be between 0 and 10", c.APIMaxRetries))
	}
	if c.APIRetryBaseDelay <= 0 {
		errors = append(errors, fmt.Sprintf("invalid API retry base delay %v: must be positive", c.APIRetryBaseDelay))
	}

	// Validate dashboard settings
	if c.RefreshDebounce < 0 || c.RefreshDebounce > 10*time.Second {
		errors = append(errors, fmt.Sprintf("invalid refresh debounce %v: must be between 0 and 10s", c.RefreshDebounce))
	}
	if _, err := c.InitialFilter(); err != nil {
		errors = append(errors, fmt.Sprintf("invalid default filter '%s': %v", c.DefaultFilter, err))
	}
	if c.SnapshotCacheSize < 0 {
		errors = append(errors, fmt.Sprintf("invalid snapshot cache size %d: must not be negative", c.SnapshotCacheSize))
	}
	if c.SnapshotCacheTTL < 0 {
		errors = append(errors, fmt.Sprintf("invalid snapshot cache TTL %v: must not be negative", c.SnapshotCacheTTL))
	}
	if c.RefreshRateLimit < 1 {
		errors = append(errors, fmt.Sprintf("invalid refresh rate limit %d: must be at least 1", c.RefreshRateLimit))
	}
	if c.ShutdownTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("invalid shutdown timeout %v: must be positive", c.ShutdownTimeout))
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL: %v", err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be debug, info, warn or error", c.LogLevel))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (c *Config) getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		c.problems = append(c.problems, fmt.Sprintf("invalid %s '%s': must be an integer", key, value))
		return defaultValue
	}
	return i
}

func (c *Config) getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		c.problems = append(c.problems, fmt.Sprintf("invalid %s '%s': must be a duration like 250ms or 10s", key, value))
		return defaultValue
	}
	return d
}

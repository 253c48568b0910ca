// Package config provides environment configuration for the chat server.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const devSecret = "development-secret-change-in-production"

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	AllowedOrigins     []string

	// Storage
	DBPath string

	// Auth settings
	JWTSecret      string
	AuthCookieName string
	SeedAdminIDs   []string

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Realtime
	WSSendBuffer   int
	WSPingInterval time.Duration

	// NATS settings; an empty URL disables the event mirror.
	NATSURL          string
	NATSCAFile       string
	NATSCertFile     string
	NATSKeyFile      string
	NATSToken        string
	NATSStreamMaxAge time.Duration

	// Logging
	LogLevel string
	LogDev   bool

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 30*time.Second),
		AllowedOrigins:     getListEnv("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),

		// Storage
		DBPath: getEnv("DB_PATH", "./data/chat.db"),

		// Auth
		JWTSecret:      getEnv("JWT_SECRET", devSecret),
		AuthCookieName: getEnv("AUTH_COOKIE_NAME", "token"),
		SeedAdminIDs:   getListEnv("SEED_ADMIN_IDS", nil),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Realtime
		WSSendBuffer:   getIntEnv("WS_SEND_BUFFER", 64),
		WSPingInterval: getDurationEnv("WS_PING_INTERVAL", 30*time.Second),

		// NATS
		NATSURL:          getEnv("NATS_URL", ""),
		NATSCAFile:       getEnv("NATS_CA_FILE", ""),
		NATSCertFile:     getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:      getEnv("NATS_KEY_FILE", ""),
		NATSToken:        getEnv("NATS_TOKEN", ""),
		NATSStreamMaxAge: getDurationEnv("NATS_STREAM_MAX_AGE", 30*24*time.Hour),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogDev:   getBoolEnv("LOG_DEV", false),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that required configuration fields are usable.
func (c *Config) Validate() error {
	var errs []error
	if c.ServerPort == "" {
		errs = append(errs, errors.New("PORT cannot be empty"))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("DB_PATH cannot be empty"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET cannot be empty"))
	}
	if c.AuthCookieName == "" {
		errs = append(errs, errors.New("AUTH_COOKIE_NAME cannot be empty"))
	}
	if c.RateLimitRequests <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_REQUESTS must be > 0"))
	}
	if c.RateLimitWindow <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_WINDOW must be > 0"))
	}
	if c.WSSendBuffer <= 0 {
		errs = append(errs, errors.New("WS_SEND_BUFFER must be > 0"))
	}
	if c.WSPingInterval < 0 {
		errs = append(errs, errors.New("WS_PING_INTERVAL cannot be negative"))
	}
	return errors.Join(errs...)
}

// UsesDevSecret reports whether tokens are verified with the built-in
// development secret.
func (c *Config) UsesDevSecret() bool {
	return c.JWTSecret == devSecret
}

// OriginPatterns returns AllowedOrigins as host patterns for the websocket
// origin check.
func (c *Config) OriginPatterns() []string {
	patterns := make([]string, 0, len(c.AllowedOrigins))
	for _, o := range c.AllowedOrigins {
		o = strings.TrimPrefix(o, "https://")
		o = strings.TrimPrefix(o, "http://")
		if o != "" {
			patterns = append(patterns, o)
		}
	}
	return patterns
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getListEnv splits a comma-separated variable, dropping empty items.
func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

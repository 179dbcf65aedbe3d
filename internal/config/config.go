// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds process-level configuration read once at startup.
type Config struct {
	Host           string
	Port           string
	DataDir        string
	APIToken       string // empty disables API authentication
	AllowedOrigins string // comma-separated CORS origins
	BridgeURL      string
	CallTimeout    time.Duration // per-command timeout for bridge calls
	AuthTimeout    time.Duration // how long to wait for operator auth input
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Host:           getEnv("HOST", "127.0.0.1"),
		Port:           getEnv("PORT", "8080"),
		DataDir:        getEnv("DATA_DIR", "./data"),
		APIToken:       getEnv("API_TOKEN", ""),
		AllowedOrigins: getEnv("ALLOWED_ORIGINS", ""),
		BridgeURL:      getEnv("BRIDGE_URL", "ws://127.0.0.1:8765/ws"),
		CallTimeout:    time.Duration(getEnvInt("BRIDGE_CALL_TIMEOUT_SECONDS", 30)) * time.Second,
		AuthTimeout:    time.Duration(getEnvInt("AUTH_TIMEOUT_SECONDS", 600)) * time.Second,
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("DATA_DIR cannot be empty")
	}
	if c.BridgeURL == "" {
		return fmt.Errorf("BRIDGE_URL cannot be empty")
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("BRIDGE_CALL_TIMEOUT_SECONDS must be > 0")
	}
	if c.AuthTimeout <= 0 {
		return fmt.Errorf("AUTH_TIMEOUT_SECONDS must be > 0")
	}
	return nil
}

// Addr returns the host:port the HTTP server binds to.
func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}

// Origins returns the configured CORS origins, empty when none are set.
func (c *Config) Origins() []string {
	if strings.TrimSpace(c.AllowedOrigins) == "" {
		return nil
	}
	parts := strings.Split(c.AllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			origins = append(origins, v)
		}
	}
	return origins
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AllowedOrigins == "" ||
		strings.Contains(c.AllowedOrigins, "localhost") ||
		strings.Contains(c.AllowedOrigins, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

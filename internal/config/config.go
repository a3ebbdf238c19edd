// Package config loads vxsky configuration from the environment.
//
// Secrets (the Bluesky identifier and app password) are required and
// validated up front so the server fails fast instead of serving broken
// embeds.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all application configuration.
type Config struct {
	// BaseURL is the public URL this instance is served from
	// (e.g. "https://vxsky.app"). Used to build absolute og:image links.
	BaseURL string

	// Identifier is the Bluesky account used for API access, either a
	// handle or an email.
	Identifier string

	// AppPassword is the Bluesky app password for Identifier.
	AppPassword string

	// ServiceURL is the AT Protocol PDS to talk to.
	ServiceURL string

	// Port the HTTP server listens on.
	Port string

	// RedisURL enables the Redis cache backend when set.
	RedisURL string

	// DatabaseURL selects Postgres for the stats store when set;
	// otherwise a local SQLite file at DBPath is used.
	DatabaseURL string
	DBPath      string

	Environment   string
	MetricsEnable bool
}

// Load reads configuration from environment variables and validates the
// required values. The caller is expected to have loaded any .env file
// beforehand.
func Load() (*Config, error) {
	cfg := &Config{
		BaseURL:       strings.TrimRight(os.Getenv("VXSKY_BASE_URL"), "/"),
		Identifier:    os.Getenv("VXSKY_IDENTIFIER"),
		AppPassword:   os.Getenv("VXSKY_APP_PASSWORD"),
		ServiceURL:    getEnv("VXSKY_SERVICE_URL", "https://bsky.social"),
		Port:          getEnv("PORT", "8080"),
		RedisURL:      os.Getenv("REDIS_URL"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		DBPath:        getEnv("VXSKY_DB_PATH", "vxsky.db"),
		Environment:   getEnv("ENVIRONMENT", "development"),
		MetricsEnable: getEnvBool("ENABLE_METRICS", true),
	}

	var missing []string
	if cfg.BaseURL == "" {
		missing = append(missing, "VXSKY_BASE_URL")
	}
	if cfg.Identifier == "" {
		missing = append(missing, "VXSKY_IDENTIFIER")
	}
	if cfg.AppPassword == "" {
		missing = append(missing, "VXSKY_APP_PASSWORD")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	return cfg, nil
}

// IsProduction reports whether the server runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

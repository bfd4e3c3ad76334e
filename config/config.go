// Package config loads and validates environment variables at startup.
// Fail-fast: a malformed or incomplete configuration errors before any
// component starts. A local .env file is honored when present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the jobmesh service.
type Config struct {
	Port string

	// RedisURL enables the Redis job store; empty keeps the in-memory one.
	RedisURL string
	// DatabaseURL enables the Postgres run store and pgvector index.
	DatabaseURL string

	// Board connector credentials. BoardAPIURL empty disables the board
	// connector; when set, both credentials are required.
	BoardAPIURL string
	BoardAppID  string
	BoardAppKey string

	// FeedURL enables the crawler feed connector.
	FeedURL string

	// OpenAIAPIKey enables semantic matching and the OpenAI rewrite model.
	OpenAIAPIKey string
	// AnthropicAPIKey enables the Anthropic rewrite model.
	AnthropicAPIKey string
	// RewriteProvider picks the rewrite model: "openai", "anthropic" or
	// empty to disable rewriting.
	RewriteProvider string

	SweepInterval time.Duration
	Retention     time.Duration

	SessionQueueSize  int
	ReconnectGrace    time.Duration
	InactivityTimeout time.Duration
}

// Load reads a .env file when present, then the environment, and returns a
// validated Config.
func Load() (*Config, error) {
	// Missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		RedisURL:        os.Getenv("REDIS_URL"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		BoardAPIURL:     os.Getenv("BOARD_API_URL"),
		BoardAppID:      os.Getenv("BOARD_APP_ID"),
		BoardAppKey:     os.Getenv("BOARD_APP_KEY"),
		FeedURL:         os.Getenv("FEED_URL"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		RewriteProvider: os.Getenv("REWRITE_PROVIDER"),
	}

	sweepHours, err := getEnvInt("SWEEP_INTERVAL_HOURS", 6)
	if err != nil {
		return nil, err
	}
	cfg.SweepInterval = time.Duration(sweepHours) * time.Hour

	retentionDays, err := getEnvInt("RETENTION_DAYS", 30)
	if err != nil {
		return nil, err
	}
	cfg.Retention = time.Duration(retentionDays) * 24 * time.Hour

	queueSize, err := getEnvInt("SESSION_QUEUE_SIZE", 64)
	if err != nil {
		return nil, err
	}
	cfg.SessionQueueSize = queueSize

	graceMinutes, err := getEnvInt("RECONNECT_GRACE_MINUTES", 2)
	if err != nil {
		return nil, err
	}
	cfg.ReconnectGrace = time.Duration(graceMinutes) * time.Minute

	idleMinutes, err := getEnvInt("INACTIVITY_TIMEOUT_MINUTES", 30)
	if err != nil {
		return nil, err
	}
	cfg.InactivityTimeout = time.Duration(idleMinutes) * time.Minute

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.BoardAPIURL != "" && (c.BoardAppID == "" || c.BoardAppKey == "") {
		return fmt.Errorf("BOARD_APP_ID and BOARD_APP_KEY are required when BOARD_API_URL is set")
	}
	switch c.RewriteProvider {
	case "":
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when REWRITE_PROVIDER=openai")
		}
	case "anthropic":
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required when REWRITE_PROVIDER=anthropic")
		}
	default:
		return fmt.Errorf("REWRITE_PROVIDER must be openai or anthropic, got %q", c.RewriteProvider)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, s)
	}
	return v, nil
}

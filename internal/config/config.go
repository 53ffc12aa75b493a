package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the gatekeeper server.
type Config struct {
	Server   ServerConfig
	Jobs     JobsConfig
	Auth     AuthConfig
	Gradio   GradioConfig
	Redis    RedisConfig
	Database DatabaseConfig
}

type ServerConfig struct {
	Port           int
	Env            string
	LogLevel       string
	WSWriteTimeout time.Duration
}

// JobsConfig tunes the background job runner. A zero Timeout means jobs may
// wait at the gate and run on the backend for as long as they need.
type JobsConfig struct {
	Timeout      time.Duration
	DrainTimeout time.Duration
}

type AuthConfig struct {
	APIKeyHash      string
	RateLimitPerMin int
}

type GradioConfig struct {
	BaseURL     string
	APIPrefix   string
	APIName     string
	DownloadDir string
	Timeout     time.Duration
}

type RedisConfig struct {
	URL string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

var validLogLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any value is invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:           envInt("GATEKEEPER_PORT", 7861),
			Env:            envString("GATEKEEPER_ENV", "development"),
			LogLevel:       strings.ToLower(envString("GATEKEEPER_LOG_LEVEL", "info")),
			WSWriteTimeout: envDuration("GATEKEEPER_WS_WRITE_TIMEOUT", 10*time.Second),
		},
		Jobs: JobsConfig{
			Timeout:      envDuration("GATEKEEPER_JOB_TIMEOUT", 0),
			DrainTimeout: envDuration("GATEKEEPER_DRAIN_TIMEOUT", 30*time.Second),
		},
		Auth: AuthConfig{
			APIKeyHash:      os.Getenv("GATEKEEPER_API_KEY_HASH"),
			RateLimitPerMin: envInt("GATEKEEPER_RATE_LIMIT_PER_MIN", 60),
		},
		Gradio: GradioConfig{
			BaseURL:     strings.TrimRight(envString("GRADIO_BASE_URL", "http://127.0.0.1:7860"), "/"),
			APIPrefix:   envString("GRADIO_API_PREFIX", "/gradio_api"),
			APIName:     envString("GRADIO_API_NAME", "/inference"),
			DownloadDir: envString("GRADIO_DOWNLOAD_DIR", os.TempDir()),
			Timeout:     envDuration("GRADIO_TIMEOUT", 0),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 5),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 1),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SlogLevel returns the slog level named by Server.LogLevel.
func (c *Config) SlogLevel() slog.Level {
	return validLogLevels[c.Server.LogLevel]
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("GATEKEEPER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if _, ok := validLogLevels[c.Server.LogLevel]; !ok {
		return fmt.Errorf("GATEKEEPER_LOG_LEVEL must be one of debug, info, warn, error; got %q", c.Server.LogLevel)
	}

	if c.Server.WSWriteTimeout <= 0 {
		return fmt.Errorf("GATEKEEPER_WS_WRITE_TIMEOUT must be positive")
	}

	if c.Jobs.Timeout < 0 {
		return fmt.Errorf("GATEKEEPER_JOB_TIMEOUT must not be negative")
	}

	if !strings.HasPrefix(c.Gradio.BaseURL, "http://") && !strings.HasPrefix(c.Gradio.BaseURL, "https://") {
		return fmt.Errorf("GRADIO_BASE_URL must start with http:// or https://, got %q", c.Gradio.BaseURL)
	}

	if strings.Trim(c.Gradio.APIName, "/") == "" {
		return fmt.Errorf("GRADIO_API_NAME is required")
	}

	if c.Redis.URL != "" && !strings.HasPrefix(c.Redis.URL, "redis://") && !strings.HasPrefix(c.Redis.URL, "rediss://") {
		return fmt.Errorf("REDIS_URL must start with redis:// or rediss://, got %q", c.Redis.URL)
	}

	if c.Auth.APIKeyHash != "" && !strings.HasPrefix(c.Auth.APIKeyHash, "$2") {
		return fmt.Errorf("GATEKEEPER_API_KEY_HASH must be a bcrypt hash")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// Package config handles process configuration from the environment and the
// persisted backup settings file.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"

	"github.com/imedwei/clinic-backup/internal/artifact"
)

// Config holds process-level settings read from environment variables.
type Config struct {
	// Persisted schedule, retention and destinations
	ConfigFile string `env:"BACKUP_CONFIG_FILE,default=backup.yaml"`

	// Per-upload timeout in milliseconds
	UploadTimeoutMS int `env:"UPLOAD_TIMEOUT_MS,default=600000"`

	// Server and logging
	HTTPPort  int    `env:"HTTP_PORT,default=8080"`
	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=text"`

	// Schedule evaluation period
	TickInterval time.Duration `env:"SCHEDULE_TICK_INTERVAL,default=30s"`

	// Artifact production
	DatabaseURL      string `env:"DATABASE_URL"`
	PGDumpBin        string `env:"PG_DUMP_BIN,default=pg_dump"`
	PGDumpOptions    string `env:"PG_DUMP_OPTIONS"`
	WorkDir          string `env:"BACKUP_WORK_DIR"`
	BackupFilePrefix string `env:"BACKUP_FILE_PREFIX,default=backup_"`
}

// LoadDotEnv loads variables from the given .env files (default ".env")
// without overriding variables already set. Missing files are ignored.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		_ = godotenv.Load(f)
	}
}

// Load reads configuration from environment variables.
func Load(ctx context.Context) (*Config, error) {
	return LoadFrom(ctx, envconfig.OsLookuper())
}

// LoadFrom reads configuration through lookuper.
func LoadFrom(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.UploadTimeoutMS <= 0 {
		return fmt.Errorf("UPLOAD_TIMEOUT_MS must be positive")
	}

	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP_PORT: %d", c.HTTPPort)
	}

	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid LOG_FORMAT: %s (must be 'text' or 'json')", c.LogFormat)
	}

	if c.TickInterval < time.Second || c.TickInterval > time.Minute {
		return fmt.Errorf("SCHEDULE_TICK_INTERVAL must be between 1s and 1m, got %s", c.TickInterval)
	}

	if c.ConfigFile == "" {
		return fmt.Errorf("BACKUP_CONFIG_FILE is required")
	}

	return nil
}

// UploadTimeout returns the per-upload timeout as a Duration.
func (c *Config) UploadTimeout() time.Duration {
	return time.Duration(c.UploadTimeoutMS) * time.Millisecond
}

// Prefix returns the artifact name prefix.
func (c *Config) Prefix() string {
	if c.BackupFilePrefix == "" {
		return artifact.DefaultPrefix
	}
	return c.BackupFilePrefix
}

// ParseLevel maps LOG_LEVEL to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL: %s", level)
	}
}

// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (STRIDE_* and DATABASE_URL)
//  2. Config file (~/.stride/config.yaml or ./config.yaml)
//  3. Default values
//
// Sensitive values (the PostgreSQL password) are never logged.
// Errors use sentinel values so callers can branch with errors.Is().
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is empty.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is empty.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is not recognized.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidListenAddr indicates the HTTP listen address is empty.
	ErrInvalidListenAddr = errors.New("invalid listen address")

	// ErrInvalidRateLimit indicates the rate limit settings are out of range.
	ErrInvalidRateLimit = errors.New("invalid rate limit")
)

// Config stores application configuration.
type Config struct {
	// HTTP server
	ListenAddr string `mapstructure:"listen_addr"`

	// Per-owner request rate limiting
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	RateBurst     int     `mapstructure:"rate_burst"`

	// Storage (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"` // SENSITIVE: never logged
	PostgresDBName   string `mapstructure:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode"`

	// Reasoning engine endpoint (external collaborator). Empty disables
	// the /turn endpoint; all store operations remain available.
	ReasoningURL string `mapstructure:"reasoning_url"`

	// Telemetry
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name"`
	Environment  string `mapstructure:"environment"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > defaults.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".stride")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is not an error; defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", "127.0.0.1:8480")
	v.SetDefault("rate_per_second", 25.0)
	v.SetDefault("rate_burst", 50)

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "stride")
	v.SetDefault("postgres_password", "")
	v.SetDefault("postgres_db_name", "stride")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("reasoning_url", "")

	v.SetDefault("otlp_endpoint", "")
	v.SetDefault("service_name", "stride")
	v.SetDefault("environment", "dev")
}

func bindEnvVariables(v *viper.Viper) {
	v.SetEnvPrefix("STRIDE")
	v.AutomaticEnv()

	// Explicit bindings so STRIDE_POSTGRES_HOST etc. map to nested keys.
	for _, key := range []string{
		"listen_addr",
		"rate_per_second",
		"rate_burst",
		"postgres_host",
		"postgres_port",
		"postgres_user",
		"postgres_password",
		"postgres_db_name",
		"postgres_ssl_mode",
		"reasoning_url",
		"otlp_endpoint",
		"service_name",
		"environment",
	} {
		// BindEnv only errors on empty input, which cannot happen here.
		_ = v.BindEnv(key)
	}
}

// Validate checks the configuration for the serve and migrate commands.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}
	if c.PostgresHost == "" {
		return ErrInvalidPostgresHost
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return ErrInvalidPostgresDBName
	}
	switch c.PostgresSSLMode {
	case "disable", "allow", "prefer", "require", "verify-ca", "verify-full":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidPostgresSSLMode, c.PostgresSSLMode)
	}
	if c.ListenAddr == "" {
		return ErrInvalidListenAddr
	}
	if c.RatePerSecond <= 0 || c.RateBurst < 1 {
		return fmt.Errorf("%w: rate=%v burst=%d", ErrInvalidRateLimit, c.RatePerSecond, c.RateBurst)
	}
	return nil
}

package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for ledgercore
type Config struct {
	Environment string        `toml:"environment"`
	Server      ServerConfig  `toml:"server"`
	Storage     StorageConfig `toml:"storage"`
	Auth        AuthConfig    `toml:"auth"`
	Logging     LoggingConfig `toml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// StorageConfig selects and configures the storage backend.
type StorageConfig struct {
	// Type selects the engine: "memory", "badger", or "surrealdb".
	Type string `toml:"type"`
	// Path is the data directory for embedded engines.
	Path string `toml:"path"`
	// Address is the connection URL for server engines
	// (e.g. ws://localhost:8000/rpc).
	Address   string `toml:"address"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
	Namespace string `toml:"namespace"`
	Database  string `toml:"database"`
	// AsyncEnabled allows hosts to opt into background flushing on engines
	// that support it. Synchronous commit is the default.
	AsyncEnabled bool `toml:"async_enabled"`
}

// AuthConfig holds bearer-token settings for tenant resolution.
type AuthConfig struct {
	JWTSecret   string `toml:"jwt_secret"`
	TokenExpiry string `toml:"token_expiry"` // duration string, default "24h"
}

// GetTokenExpiry parses and returns the token expiry duration.
func (c *AuthConfig) GetTokenExpiry() time.Duration {
	d, err := time.ParseDuration(c.TokenExpiry)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Storage: StorageConfig{
			Type:      "memory",
			Path:      "data/ledger",
			Namespace: "ledgercore",
			Database:  "core",
		},
		Auth: AuthConfig{
			JWTSecret:   "dev-jwt-secret-change-in-production",
			TokenExpiry: "24h",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfig loads configuration from files with environment overrides.
// Later files override earlier ones; missing files are skipped.
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := validateStorageType(config); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config.
// STORAGE_TYPE, DATABASE_URL, and ASYNC_ENABLED are the portable keys;
// LEDGERCORE_* keys cover the rest.
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("LEDGERCORE_ENV"); env != "" {
		config.Environment = env
	}

	if host := os.Getenv("LEDGERCORE_HOST"); host != "" {
		config.Server.Host = host
	}

	if port := os.Getenv("LEDGERCORE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if level := os.Getenv("LEDGERCORE_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if st := os.Getenv("STORAGE_TYPE"); st != "" {
		config.Storage.Type = strings.ToLower(st)
	}

	if url := os.Getenv("DATABASE_URL"); url != "" {
		config.Storage.Address = url
	}

	if v := os.Getenv("ASYNC_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.Storage.AsyncEnabled = b
		}
	}

	if path := os.Getenv("LEDGERCORE_DATA_PATH"); path != "" {
		config.Storage.Path = path
	}

	if v := os.Getenv("LEDGERCORE_JWT_SECRET"); v != "" {
		config.Auth.JWTSecret = v
	}
	if v := os.Getenv("LEDGERCORE_TOKEN_EXPIRY"); v != "" {
		config.Auth.TokenExpiry = v
	}
}

// validateStorageType rejects unknown storage engines up front so the
// factory never sees an unsupported value.
func validateStorageType(config *Config) error {
	t := strings.ToLower(strings.TrimSpace(config.Storage.Type))
	switch t {
	case "", "memory":
		config.Storage.Type = "memory"
	case "badger", "surrealdb":
		config.Storage.Type = t
	default:
		return fmt.Errorf("unknown storage type: %s (supported: memory, badger, surrealdb)", config.Storage.Type)
	}
	return nil
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config holds all configuration for ekaya-paramquery.
// Configuration can come from YAML file (config.yaml), a .env file, or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords) must only come from environment variables.
type Config struct {
	Env     string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL query store)
	Database DatabaseConfig `yaml:"database"`

	// Datasource runner management configuration
	Datasource DatasourceConfig `yaml:"datasource"`

	// Template engine behavior
	Engine EngineConfig `yaml:"engine"`

	Log LogConfig `yaml:"log"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"ekaya"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"ekaya_paramquery"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	MaxIdleConns   int32  `yaml:"max_idle_conns" env:"PGMAX_IDLE_CONNS" env-default:"5"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	// RunMigrations applies embedded schema migrations on startup.
	RunMigrations bool `yaml:"run_migrations" env:"PGRUN_MIGRATIONS" env-default:"true"`
}

// DatasourceConfig holds settings for the runners that execute dropdown queries.
type DatasourceConfig struct {
	// ConnectionTTLMinutes is how long idle datasource runners are kept alive.
	// An unset or zero value means the default.
	ConnectionTTLMinutes int `yaml:"connection_ttl_minutes" env:"DATASOURCE_CONNECTION_TTL_MINUTES" env-default:"5"`
	// MaxRunnersPerOrg limits how many datasource runners one organization keeps open.
	MaxRunnersPerOrg int `yaml:"max_runners_per_org" env:"DATASOURCE_MAX_RUNNERS_PER_ORG" env-default:"10"`
	// PoolMaxConns is the maximum number of connections per datasource pool.
	PoolMaxConns int32 `yaml:"pool_max_conns" env:"DATASOURCE_POOL_MAX_CONNS" env-default:"10"`
	// PoolMinConns is the minimum number of connections per datasource pool.
	PoolMinConns int32 `yaml:"pool_min_conns" env:"DATASOURCE_POOL_MIN_CONNS" env-default:"1"`

	// CredentialsKey decrypts stored datasource configs. When empty, configs are stored as plain JSON.
	// Must be a 32-byte key, base64 encoded. Generate with: openssl rand -base64 32
	CredentialsKey string `yaml:"-" env:"DATASOURCE_CREDENTIALS_KEY"` // Secret - not in YAML
}

// ConnectionTTL returns ConnectionTTLMinutes as a duration.
func (c *DatasourceConfig) ConnectionTTL() time.Duration {
	return time.Duration(c.ConnectionTTLMinutes) * time.Minute
}

// EngineConfig controls parameter validation and dependent query resolution.
type EngineConfig struct {
	// MaxParallelValidations bounds how many parameters are validated at once.
	// An unset or zero value means the default.
	MaxParallelValidations int `yaml:"max_parallel_validations" env:"ENGINE_MAX_PARALLEL_VALIDATIONS" env-default:"8"`
	// ResolverRetryAttempts is how many times a transient runner failure is
	// retried before falling back to the latest stored result. 0 disables retries.
	ResolverRetryAttempts int `yaml:"resolver_retry_attempts" env:"ENGINE_RESOLVER_RETRY_ATTEMPTS" env-default:"0"`
	// ResolverTimeout bounds one dependent query execution.
	ResolverTimeout time.Duration `yaml:"resolver_timeout" env:"ENGINE_RESOLVER_TIMEOUT" env-default:"30s"`
	// ScreenTextParameters rejects free-text values that look like SQL injection
	// when the schema is not safe.
	ScreenTextParameters bool `yaml:"screen_text_parameters" env:"ENGINE_SCREEN_TEXT_PARAMETERS" env-default:"true"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

// Load reads configuration from config.yaml with .env and environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	return LoadFile("config.yaml", ".env", version)
}

// LoadFile reads configuration from configPath. If envPath names an existing
// file its variables are exported first; variables already set in the
// environment win over the file.
func LoadFile(configPath, envPath, version string) (*Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read %s: %w", envPath, err)
		}
	}

	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", configPath, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Engine.MaxParallelValidations < 1 {
		return fmt.Errorf("engine.max_parallel_validations must be at least 1, got %d", c.Engine.MaxParallelValidations)
	}
	if c.Engine.ResolverRetryAttempts < 0 {
		return fmt.Errorf("engine.resolver_retry_attempts must not be negative, got %d", c.Engine.ResolverRetryAttempts)
	}
	if c.Datasource.ConnectionTTLMinutes < 1 {
		return fmt.Errorf("datasource.connection_ttl_minutes must be at least 1, got %d", c.Datasource.ConnectionTTLMinutes)
	}
	if c.Datasource.PoolMinConns > c.Datasource.PoolMaxConns {
		return fmt.Errorf("datasource.pool_min_conns (%d) exceeds pool_max_conns (%d)",
			c.Datasource.PoolMinConns, c.Datasource.PoolMaxConns)
	}
	return nil
}

// URL returns the database as a postgres:// URL with escaped credentials.
func (c *DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": []string{c.SSLMode}}.Encode(),
	}
	return u.String()
}

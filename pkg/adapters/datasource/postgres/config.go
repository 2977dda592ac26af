package postgres

import (
	"github.com/ekaya-inc/ekaya-paramquery/pkg/adapters/datasource"
)

// Config contains PostgreSQL-specific connection options.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string // "disable", "require", "verify-ca", "verify-full"
}

// DefaultPort returns the default PostgreSQL port.
func DefaultPort() int {
	return 5432
}

// DefaultSSLMode returns the default SSL mode.
func DefaultSSLMode() string {
	return "require"
}

// FromMap creates a Config from a generic config map.
func FromMap(config map[string]any) (*Config, error) {
	cfg := &Config{
		Port:    DefaultPort(),
		SSLMode: DefaultSSLMode(),
	}

	var ok bool
	if cfg.Host, ok = datasource.StringOption(config, "host"); !ok {
		return nil, datasource.ConfigError("host is required")
	}

	port, ok, err := datasource.IntOption(config, "port")
	if err != nil {
		return nil, err
	}
	if ok {
		cfg.Port = port
	}

	if cfg.User, ok = datasource.StringOption(config, "user", "username"); !ok {
		return nil, datasource.ConfigError("user is required")
	}

	cfg.Password, _ = datasource.StringOption(config, "password")

	// "name" and "dbname" are legacy spellings
	if cfg.Database, ok = datasource.StringOption(config, "database", "dbname", "name"); !ok {
		return nil, datasource.ConfigError("database is required")
	}

	if sslMode, ok := datasource.StringOption(config, "ssl_mode", "sslmode"); ok {
		cfg.SSLMode = sslMode
	}

	return cfg, nil
}

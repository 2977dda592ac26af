package mysql

import (
	"github.com/ekaya-inc/ekaya-paramquery/pkg/adapters/datasource"
)

// Config contains MySQL-specific connection options.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	// TLS is a go-sql-driver tls value: "true", "false", "skip-verify" or "preferred".
	TLS               string
	ConnectionTimeout int
}

// DefaultPort returns the default MySQL port.
func DefaultPort() int {
	return 3306
}

// FromMap creates a Config from a generic config map.
func FromMap(config map[string]any) (*Config, error) {
	cfg := &Config{
		Port:              DefaultPort(),
		TLS:               "preferred",
		ConnectionTimeout: 30,
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

	// "db" and "name" are legacy spellings
	if cfg.Database, ok = datasource.StringOption(config, "database", "db", "name"); !ok {
		return nil, datasource.ConfigError("database is required")
	}

	if tls, ok := datasource.StringOption(config, "tls"); ok {
		cfg.TLS = tls
	} else if tls, ok := datasource.BoolOption(config, "tls"); ok {
		cfg.TLS = "false"
		if tls {
			cfg.TLS = "true"
		}
	}

	timeout, ok, err := datasource.IntOption(config, "connection_timeout")
	if err != nil {
		return nil, err
	}
	if ok {
		cfg.ConnectionTimeout = timeout
	}

	return cfg, nil
}

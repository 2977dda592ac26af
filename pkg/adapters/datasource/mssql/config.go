package mssql

import (
	"github.com/ekaya-inc/ekaya-paramquery/pkg/adapters/datasource"
)

const (
	AuthMethodSQL              = "sql"
	AuthMethodServicePrincipal = "service_principal"
)

// Config contains SQL Server-specific connection options.
type Config struct {
	Host     string
	Port     int
	Database string

	// AuthMethod determines which authentication to use: "sql" or "service_principal".
	AuthMethod string

	// SQL Authentication fields
	Username string
	Password string

	// Service Principal (Azure AD) fields
	TenantID     string
	ClientID     string
	ClientSecret string

	// Connection options
	Encrypt                bool
	TrustServerCertificate bool
	ConnectionTimeout      int
}

// DefaultPort returns the default SQL Server port.
func DefaultPort() int {
	return 1433
}

// DefaultConnectionTimeout returns the default connection timeout in seconds.
func DefaultConnectionTimeout() int {
	return 30
}

// FromMap creates a Config from a generic config map and auto-detects auth method.
func FromMap(config map[string]any) (*Config, error) {
	cfg := &Config{
		Port:              DefaultPort(),
		Encrypt:           true,
		ConnectionTimeout: DefaultConnectionTimeout(),
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

	// "name" is a legacy spelling
	if cfg.Database, ok = datasource.StringOption(config, "database", "name"); !ok {
		return nil, datasource.ConfigError("database is required")
	}

	if encrypt, ok := datasource.BoolOption(config, "encrypt"); ok {
		cfg.Encrypt = encrypt
	} else if s, _ := datasource.StringOption(config, "encrypt"); s == "strict" {
		cfg.Encrypt = true
	}

	if trust, ok := datasource.BoolOption(config, "trust_server_certificate"); ok {
		cfg.TrustServerCertificate = trust
	}

	timeout, ok, err := datasource.IntOption(config, "connection_timeout")
	if err != nil {
		return nil, err
	}
	if ok {
		cfg.ConnectionTimeout = timeout
	}

	// Auto-detect auth method or use explicitly provided
	if authMethod, ok := datasource.StringOption(config, "auth_method"); ok {
		cfg.AuthMethod = authMethod
	} else if _, hasClientID := datasource.StringOption(config, "client_id"); hasClientID {
		cfg.AuthMethod = AuthMethodServicePrincipal
	} else if _, hasUser := datasource.StringOption(config, "username", "user"); hasUser {
		cfg.AuthMethod = AuthMethodSQL
	} else {
		return nil, datasource.ConfigError("could not auto-detect auth method; no credentials provided")
	}

	switch cfg.AuthMethod {
	case AuthMethodSQL:
		if cfg.Username, ok = datasource.StringOption(config, "username", "user"); !ok {
			return nil, datasource.ConfigError("username is required for SQL authentication")
		}
		// Password can be empty for some scenarios
		cfg.Password, _ = datasource.StringOption(config, "password")

	case AuthMethodServicePrincipal:
		cfg.TenantID, _ = datasource.StringOption(config, "tenant_id")
		cfg.ClientID, _ = datasource.StringOption(config, "client_id")
		cfg.ClientSecret, _ = datasource.StringOption(config, "client_secret")

	default:
		return nil, datasource.ConfigError("invalid auth method: %s (must be sql or service_principal)", cfg.AuthMethod)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if the config has all required fields for the selected auth method.
func (c *Config) Validate() error {
	if c.Host == "" {
		return datasource.ConfigError("host is required")
	}
	if c.Database == "" {
		return datasource.ConfigError("database is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return datasource.ConfigError("invalid port: %d", c.Port)
	}

	switch c.AuthMethod {
	case AuthMethodSQL:
		if c.Username == "" {
			return datasource.ConfigError("username is required for SQL authentication")
		}
	case AuthMethodServicePrincipal:
		if c.TenantID == "" {
			return datasource.ConfigError("tenant_id is required for service principal")
		}
		if c.ClientID == "" {
			return datasource.ConfigError("client_id is required for service principal")
		}
		if c.ClientSecret == "" {
			return datasource.ConfigError("client_secret is required for service principal")
		}
	default:
		return datasource.ConfigError("invalid auth method: %s", c.AuthMethod)
	}

	return nil
}

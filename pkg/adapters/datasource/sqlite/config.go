package sqlite

import (
	"github.com/ekaya-inc/ekaya-paramquery/pkg/adapters/datasource"
)

// Config contains SQLite-specific connection options.
type Config struct {
	// Path is the database file. ":memory:" opens a private in-memory database.
	Path string
	// ReadOnly opens the file with mode=ro. Defaults to true since dependent
	// queries only read.
	ReadOnly bool
	// BusyTimeoutMs is how long a query waits on a locked database.
	BusyTimeoutMs int
}

// FromMap creates a Config from a generic config map.
func FromMap(config map[string]any) (*Config, error) {
	cfg := &Config{
		ReadOnly:      true,
		BusyTimeoutMs: 5000,
	}

	var ok bool
	if cfg.Path, ok = datasource.StringOption(config, "path", "file", "database"); !ok {
		return nil, datasource.ConfigError("path is required")
	}

	if readOnly, ok := datasource.BoolOption(config, "read_only"); ok {
		cfg.ReadOnly = readOnly
	}

	timeout, ok, err := datasource.IntOption(config, "busy_timeout_ms")
	if err != nil {
		return nil, err
	}
	if ok {
		cfg.BusyTimeoutMs = timeout
	}

	return cfg, nil
}

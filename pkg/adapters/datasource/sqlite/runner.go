package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/ekaya-inc/ekaya-paramquery/pkg/adapters/datasource"
)

var dialect = datasource.Dialect{
	Name:          "sqlite",
	BytesAsString: func(dbType string) bool { return !strings.EqualFold(dbType, "BLOB") },
	Transient:     transient,
}

func buildDSN(cfg *Config) string {
	query := url.Values{}
	if cfg.ReadOnly && cfg.Path != ":memory:" {
		query.Set("mode", "ro")
	}
	if cfg.BusyTimeoutMs > 0 {
		query.Set("_busy_timeout", strconv.Itoa(cfg.BusyTimeoutMs))
	}

	dsn := "file:" + cfg.Path
	if encoded := query.Encode(); encoded != "" {
		dsn += "?" + encoded
	}
	return dsn
}

// NewRunner opens a SQLite database and verifies it with a ping.
func NewRunner(ctx context.Context, cfg *Config, opts datasource.RunnerOptions) (*datasource.SQLRunner, error) {
	db, err := sql.Open("sqlite3", buildDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	datasource.ApplyPoolOptions(db, opts)
	if cfg.Path == ":memory:" {
		// Every connection to :memory: is a different database
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connection test failed: %w", err)
	}

	return datasource.NewSQLRunner(db, dialect), nil
}

func transient(err error) (bool, bool) {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false, false
	}
	return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked, true
}

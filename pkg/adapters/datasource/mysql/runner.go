package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/ekaya-inc/ekaya-paramquery/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-paramquery/pkg/config"
)

var dialect = datasource.Dialect{
	Name:          "mysql",
	BytesAsString: bytesAsString,
	Transient:     transient,
}

// buildDSN formats cfg with the driver's own DSN writer so that credentials
// never need manual escaping.
func buildDSN(cfg *Config) string {
	dsn := mysql.NewConfig()
	dsn.User = cfg.User
	dsn.Passwd = cfg.Password
	dsn.Net = "tcp"
	dsn.Addr = net.JoinHostPort(config.ResolveHostForDocker(cfg.Host), strconv.Itoa(cfg.Port))
	dsn.DBName = cfg.Database
	dsn.ParseTime = true
	dsn.TLSConfig = cfg.TLS
	if cfg.ConnectionTimeout > 0 {
		dsn.Timeout = time.Duration(cfg.ConnectionTimeout) * time.Second
	}
	return dsn.FormatDSN()
}

// NewRunner opens a MySQL pool and verifies it with a ping.
func NewRunner(ctx context.Context, cfg *Config, opts datasource.RunnerOptions) (*datasource.SQLRunner, error) {
	db, err := sql.Open("mysql", buildDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("open mysql connection: %w", err)
	}
	datasource.ApplyPoolOptions(db, opts)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connection test failed: %w", err)
	}

	return datasource.NewSQLRunner(db, dialect), nil
}

// bytesAsString keeps binary columns binary; the driver returns every other
// non-temporal type as []byte text.
func bytesAsString(dbType string) bool {
	upper := strings.ToUpper(dbType)
	return !strings.Contains(upper, "BLOB") && !strings.Contains(upper, "BINARY")
}

// transient classifies server errors by number.
// See https://dev.mysql.com/doc/mysql-errors/8.0/en/server-error-reference.html
func transient(err error) (bool, bool) {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return false, false
	}
	switch myErr.Number {
	case 1040, // ER_CON_COUNT_ERROR
		1205, // ER_LOCK_WAIT_TIMEOUT
		1213: // ER_LOCK_DEADLOCK
		return true, true
	}
	return false, true
}

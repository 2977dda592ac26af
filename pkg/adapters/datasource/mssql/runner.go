package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	mssqldb "github.com/microsoft/go-mssqldb" // SQL Server driver
	_ "github.com/microsoft/go-mssqldb/azuread" // Azure AD support

	"github.com/ekaya-inc/ekaya-paramquery/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-paramquery/pkg/config"
)

var dialect = datasource.Dialect{
	Name:          "sqlserver",
	MapType:       mapSQLServerType,
	BytesAsString: bytesAsString,
	Transient:     transient,
}

// transientErrorNumbers are server errors that clear on their own: deadlock
// victims and Azure SQL throttling or failover.
var transientErrorNumbers = map[int32]bool{
	1205:  true, // deadlock victim
	4221:  true, // login timeout during replica catch-up
	10928: true, // resource limit reached
	10929: true, // resource limit reached
	40501: true, // service busy
	40613: true, // database unavailable
	49918: true, // not enough resources
	49919: true, // too many create/update operations
	49920: true, // too many operations
}

func transient(err error) (bool, bool) {
	var sqlErr mssqldb.Error
	if !errors.As(err, &sqlErr) {
		return false, false
	}
	return transientErrorNumbers[sqlErr.Number], true
}

// buildConnectionString returns the driver name and DSN for cfg.
func buildConnectionString(cfg *Config) (string, string) {
	query := url.Values{}
	query.Add("database", cfg.Database)
	query.Add("encrypt", strconv.FormatBool(cfg.Encrypt))
	if cfg.TrustServerCertificate {
		query.Add("TrustServerCertificate", "true")
	}
	if cfg.ConnectionTimeout > 0 {
		query.Add("connection timeout", strconv.Itoa(cfg.ConnectionTimeout))
	}

	host := config.ResolveHostForDocker(cfg.Host)

	if cfg.AuthMethod == AuthMethodServicePrincipal {
		query.Add("fedauth", "ActiveDirectoryServicePrincipal")
		query.Add("user id", cfg.ClientID)
		query.Add("password", cfg.ClientSecret)
		query.Add("tenant id", cfg.TenantID)

		// Azure AD authentication goes through the azuresql driver
		return "azuresql", fmt.Sprintf("sqlserver://%s:%d?%s", host, cfg.Port, query.Encode())
	}

	u := &url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(cfg.Username, cfg.Password),
		Host:     fmt.Sprintf("%s:%d", host, cfg.Port),
		RawQuery: query.Encode(),
	}
	return "sqlserver", u.String()
}

// NewRunner opens a SQL Server pool and verifies it with a ping.
func NewRunner(ctx context.Context, cfg *Config, opts datasource.RunnerOptions) (*datasource.SQLRunner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	driver, dsn := buildConnectionString(cfg)
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s connection: %w", cfg.AuthMethod, err)
	}
	datasource.ApplyPoolOptions(db, opts)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connection test failed: %w", err)
	}

	return datasource.NewSQLRunner(db, dialect), nil
}

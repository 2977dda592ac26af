package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ekaya-inc/ekaya-paramquery/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-paramquery/pkg/config"
)

// Runner executes dependent queries against PostgreSQL through a pgx pool.
type Runner struct {
	pool *pgxpool.Pool
}

// buildConnectionString builds a PostgreSQL URL with proper escaping.
// User-provided fields go through url.URL so passwords containing @, /, # ?
// or spaces cannot break URL parsing. When running in Docker, localhost is
// resolved to host.docker.internal.
func buildConnectionString(cfg *Config) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = DefaultSSLMode()
	}

	host := config.ResolveHostForDocker(cfg.Host)

	u := url.URL{
		Scheme:   "postgresql",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(host, strconv.Itoa(cfg.Port)),
		Path:     "/" + cfg.Database,
		RawPath:  "/" + url.PathEscape(cfg.Database),
		RawQuery: url.Values{"sslmode": {sslMode}}.Encode(),
	}
	return u.String()
}

// NewRunner opens a pgx pool sized by opts.
func NewRunner(ctx context.Context, cfg *Config, opts datasource.RunnerOptions) (*Runner, error) {
	poolConfig, err := pgxpool.ParseConfig(buildConnectionString(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if opts.PoolMaxConns > 0 {
		poolConfig.MaxConns = opts.PoolMaxConns
	}
	if opts.PoolMinConns > 0 {
		poolConfig.MinConns = opts.PoolMinConns
	}
	if opts.MaxIdleTime > 0 {
		poolConfig.MaxConnIdleTime = opts.MaxIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	return &Runner{pool: pool}, nil
}

// Run executes text and collects at most datasource.MaxResultRows rows.
func (r *Runner) Run(ctx context.Context, text string) (any, error) {
	rows, err := r.pool.Query(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", datasource.ClassifyError(err, transient))
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	columns := make([]datasource.ColumnInfo, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = datasource.ColumnInfo{
			Name: fd.Name,
			Type: pgTypeNameFromOID(fd.DataTypeOID),
		}
	}

	result := &datasource.QueryExecutionResult{
		Columns: columns,
		Rows:    make([]map[string]any, 0),
	}
	for rows.Next() {
		if len(result.Rows) >= datasource.MaxResultRows {
			result.Truncated = true
			break
		}

		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row values: %w", err)
		}

		rowMap := make(map[string]any, len(columns))
		for i, col := range columns {
			rowMap[col.Name] = values[i]
		}
		result.Rows = append(result.Rows, rowMap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", datasource.ClassifyError(err, transient))
	}

	result.RowCount = len(result.Rows)
	return result, nil
}

// Ping verifies the pool can reach the server.
func (r *Runner) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close closes the pool.
func (r *Runner) Close() error {
	r.pool.Close()
	return nil
}

// transient classifies server errors by SQLSTATE class.
// See https://www.postgresql.org/docs/current/errcodes-appendix.html
func transient(err error) (bool, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false, false
	}
	switch {
	case strings.HasPrefix(pgErr.Code, "08"): // connection_exception
		return true, true
	case pgErr.Code == "40001", pgErr.Code == "40P01": // serialization_failure, deadlock_detected
		return true, true
	case pgErr.Code == "53300", pgErr.Code == "57P03": // too_many_connections, cannot_connect_now
		return true, true
	}
	return false, true
}

// pgTypeNameFromOID maps common built-in type OIDs to their names.
func pgTypeNameFromOID(oid uint32) string {
	switch oid {
	case 16:
		return "BOOL"
	case 17:
		return "BYTEA"
	case 20:
		return "INT8"
	case 21:
		return "INT2"
	case 23:
		return "INT4"
	case 25:
		return "TEXT"
	case 114:
		return "JSON"
	case 700:
		return "FLOAT4"
	case 701:
		return "FLOAT8"
	case 1042:
		return "BPCHAR"
	case 1043:
		return "VARCHAR"
	case 1082:
		return "DATE"
	case 1114:
		return "TIMESTAMP"
	case 1184:
		return "TIMESTAMPTZ"
	case 1700:
		return "NUMERIC"
	case 2950:
		return "UUID"
	case 3802:
		return "JSONB"
	default:
		return fmt.Sprintf("OID_%d", oid)
	}
}

var _ datasource.QueryRunner = (*Runner)(nil)

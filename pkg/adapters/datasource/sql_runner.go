package datasource

import (
	"context"
	"database/sql"
	"fmt"
)

// ApplyPoolOptions sizes a database/sql pool from opts. Zero fields keep the
// driver defaults.
func ApplyPoolOptions(db *sql.DB, opts RunnerOptions) {
	if opts.PoolMaxConns > 0 {
		db.SetMaxOpenConns(int(opts.PoolMaxConns))
	}
	if opts.PoolMinConns > 0 {
		db.SetMaxIdleConns(int(opts.PoolMinConns))
	}
	if opts.MaxIdleTime > 0 {
		db.SetConnMaxIdleTime(opts.MaxIdleTime)
	}
}

// Dialect adapts SQLRunner to one database/sql driver.
type Dialect struct {
	// Name is the adapter type, used in error messages.
	Name string
	// MapType normalizes a driver column type name. Nil keeps the driver's name.
	MapType func(dbType string) string
	// BytesAsString reports whether []byte values of dbType hold text.
	// Nil converts every []byte value to a string.
	BytesAsString func(dbType string) bool
	// Transient classifies driver errors: known reports whether the error
	// type was recognized, transient whether retrying may succeed.
	Transient func(err error) (transient bool, known bool)
}

// SQLRunner is a QueryRunner over a database/sql pool. The mssql, mysql and
// sqlite adapters share it and differ only in how they open the pool.
type SQLRunner struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLRunner wraps db. The runner owns db and closes it on Close.
func NewSQLRunner(db *sql.DB, dialect Dialect) *SQLRunner {
	return &SQLRunner{db: db, dialect: dialect}
}

// Run executes text and collects at most MaxResultRows rows.
func (r *SQLRunner) Run(ctx context.Context, text string) (any, error) {
	rows, err := r.db.QueryContext(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to execute query: %w", r.dialect.Name, ClassifyError(err, r.dialect.Transient))
	}
	defer rows.Close()

	result, err := ScanRows(rows, r.dialect)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", r.dialect.Name, ClassifyError(err, r.dialect.Transient))
	}
	return result, nil
}

// Ping verifies the pool can reach the database.
func (r *SQLRunner) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the underlying pool.
func (r *SQLRunner) Close() error {
	return r.db.Close()
}

// DB returns the underlying pool.
func (r *SQLRunner) DB() *sql.DB {
	return r.db
}

// ScanRows reads rows into a QueryExecutionResult, converting text held in
// []byte values to strings per dialect.
func ScanRows(rows *sql.Rows, dialect Dialect) (*QueryExecutionResult, error) {
	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to get column types: %w", err)
	}

	columns := make([]ColumnInfo, len(columnTypes))
	for i, ct := range columnTypes {
		typeName := ct.DatabaseTypeName()
		if dialect.MapType != nil {
			typeName = dialect.MapType(typeName)
		}
		columns[i] = ColumnInfo{Name: ct.Name(), Type: typeName}
	}

	result := &QueryExecutionResult{
		Columns: columns,
		Rows:    make([]map[string]any, 0),
	}

	for rows.Next() {
		if len(result.Rows) >= MaxResultRows {
			result.Truncated = true
			break
		}

		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		rowMap := make(map[string]any, len(columns))
		for i, col := range columns {
			val := values[i]
			if b, ok := val.([]byte); ok {
				dbType := columnTypes[i].DatabaseTypeName()
				if dialect.BytesAsString == nil || dialect.BytesAsString(dbType) {
					val = string(b)
				}
			}
			rowMap[col.Name] = val
		}
		result.Rows = append(result.Rows, rowMap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	result.RowCount = len(result.Rows)
	return result, nil
}

var _ QueryRunner = (*SQLRunner)(nil)

package datasource

import "context"

// MaxResultRows is the hard cap on rows collected from one query run.
// Dropdown queries are not expected to approach it; it protects the process
// from unbounded result sets.
const MaxResultRows = 1000

// QueryRunner executes rendered query text against one datasource.
// Each implementation owns its connection pool and must be closed when done,
// unless it was obtained from a RunnerPool.
type QueryRunner interface {
	// Run executes text and returns a *QueryExecutionResult.
	Run(ctx context.Context, text string) (any, error)

	// Ping verifies the datasource is reachable.
	Ping(ctx context.Context) error

	// Close releases the runner's connections.
	Close() error
}

// ColumnInfo describes a result column with database-agnostic type information.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"` // Database type name (e.g., "TEXT", "INT4", "VARCHAR")
}

// QueryExecutionResult holds the results from executing a query.
type QueryExecutionResult struct {
	Columns   []ColumnInfo     `json:"columns"`
	Rows      []map[string]any `json:"rows"`
	RowCount  int              `json:"row_count"`
	Truncated bool             `json:"truncated,omitempty"`
}

package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-paramquery/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-paramquery/pkg/apperrors"
)

func TestFromMap(t *testing.T) {
	cfg, err := FromMap(map[string]any{"path": "/data/app.db"})
	require.NoError(t, err)
	assert.True(t, cfg.ReadOnly)
	assert.Equal(t, 5000, cfg.BusyTimeoutMs)

	cfg, err = FromMap(map[string]any{"database": "legacy.db", "read_only": "false", "busy_timeout_ms": float64(100)})
	require.NoError(t, err)
	assert.Equal(t, "legacy.db", cfg.Path)
	assert.False(t, cfg.ReadOnly)
	assert.Equal(t, 100, cfg.BusyTimeoutMs)

	_, err = FromMap(map[string]any{})
	assert.ErrorIs(t, err, apperrors.ErrInvalidDatasourceConfig)
}

func TestBuildDSN(t *testing.T) {
	assert.Equal(t, "file:/data/app.db?_busy_timeout=5000&mode=ro",
		buildDSN(&Config{Path: "/data/app.db", ReadOnly: true, BusyTimeoutMs: 5000}))
	assert.Equal(t, "file::memory:", buildDSN(&Config{Path: ":memory:", ReadOnly: true}))
}

// newSeededRunner creates a database with a regions table and returns a
// read-only runner over it.
func newSeededRunner(t *testing.T) datasource.QueryRunner {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	writer, err := NewRunner(ctx, &Config{Path: path}, datasource.RunnerOptions{})
	require.NoError(t, err)
	_, err = writer.DB().ExecContext(ctx, `
		CREATE TABLE regions (id INTEGER PRIMARY KEY, name TEXT NOT NULL, code BLOB);
		INSERT INTO regions (id, name, code) VALUES (1, 'North', x'01'), (2, 'South', x'02');`)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	runner, err := NewRunner(ctx, &Config{Path: path, ReadOnly: true, BusyTimeoutMs: 1000}, datasource.RunnerOptions{PoolMaxConns: 2})
	require.NoError(t, err)
	t.Cleanup(func() { runner.Close() })
	return runner
}

func TestRunner_Run(t *testing.T) {
	runner := newSeededRunner(t)

	raw, err := runner.Run(context.Background(), "SELECT name, id, code FROM regions ORDER BY id")
	require.NoError(t, err)

	result, ok := raw.(*datasource.QueryExecutionResult)
	require.True(t, ok)
	require.Len(t, result.Columns, 3)
	assert.Equal(t, "name", result.Columns[0].Name)
	assert.Equal(t, 2, result.RowCount)
	assert.Equal(t, "North", result.Rows[0]["name"])
	assert.Equal(t, int64(2), result.Rows[1]["id"])
	assert.Equal(t, []byte{0x02}, result.Rows[1]["code"], "BLOB stays binary")
	assert.False(t, result.Truncated)
}

func TestRunner_ReadOnly(t *testing.T) {
	runner := newSeededRunner(t)

	_, err := runner.Run(context.Background(), "DELETE FROM regions")
	require.Error(t, err)
}

func TestRunner_Truncates(t *testing.T) {
	runner := newSeededRunner(t)

	raw, err := runner.Run(context.Background(), `
		WITH RECURSIVE n(x) AS (SELECT 1 UNION ALL SELECT x + 1 FROM n WHERE x < 1500)
		SELECT x FROM n`)
	require.NoError(t, err)

	result := raw.(*datasource.QueryExecutionResult)
	assert.Equal(t, datasource.MaxResultRows, result.RowCount)
	assert.True(t, result.Truncated)
}

func TestRunner_BadSQL(t *testing.T) {
	runner := newSeededRunner(t)

	_, err := runner.Run(context.Background(), "SELECT * FROM missing_table")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sqlite: failed to execute query")
}

func TestTransient(t *testing.T) {
	isTransient, known := transient(sqlite3.Error{Code: sqlite3.ErrBusy})
	assert.True(t, known)
	assert.True(t, isTransient)

	isTransient, known = transient(sqlite3.Error{Code: sqlite3.ErrConstraint})
	assert.True(t, known)
	assert.False(t, isTransient)

	_, known = transient(errors.New("x"))
	assert.False(t, known)
}

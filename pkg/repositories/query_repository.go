package repositories

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-paramquery/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-paramquery/pkg/crypto"
	"github.com/ekaya-inc/ekaya-paramquery/pkg/database"
	"github.com/ekaya-inc/ekaya-paramquery/pkg/models"
)

// QueryRepository provides data access for stored queries, their datasources
// and persisted result snapshots. Every call acquires its own org-scoped
// connection, so one repository may be used from concurrent validations.
type QueryRepository interface {
	// GetQuery returns the query with its datasource attached, or a nil
	// Datasource when the query is detached.
	GetQuery(ctx context.Context, orgID, queryID uuid.UUID) (*models.Query, error)
	// GetResult returns a persisted result snapshot.
	GetResult(ctx context.Context, orgID, resultID uuid.UUID) (*models.QueryResult, error)

	CreateDatasource(ctx context.Context, ds *models.Datasource) error
	CreateQuery(ctx context.Context, query *models.Query) error
	// SaveResult stores a snapshot and makes it the query's latest result.
	SaveResult(ctx context.Context, result *models.QueryResult) error
}

type queryRepository struct {
	db        *database.DB
	encryptor *crypto.CredentialEncryptor
}

// NewQueryRepository creates a new QueryRepository. A nil encryptor stores
// datasource configs as plain JSON.
func NewQueryRepository(db *database.DB, encryptor *crypto.CredentialEncryptor) QueryRepository {
	return &queryRepository{db: db, encryptor: encryptor}
}

var _ QueryRepository = (*queryRepository)(nil)

func (r *queryRepository) GetQuery(ctx context.Context, orgID, queryID uuid.UUID) (*models.Query, error) {
	scope, err := r.db.WithTenant(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer scope.Close()

	sql := `
		SELECT q.id, q.org_id, q.name, q.query_text, q.parameters, q.latest_result_id,
		       q.created_at, q.updated_at,
		       d.id, d.name, d.datasource_type, d.datasource_config, d.created_at, d.updated_at
		FROM engine_queries q
		LEFT JOIN engine_datasources d ON d.id = q.datasource_id
		WHERE q.org_id = $1 AND q.id = $2`

	var (
		q          models.Query
		parameters []byte
		dsID       *uuid.UUID
		dsName     *string
		dsType     *string
		dsConfig   *string
		dsCreated  *time.Time
		dsUpdated  *time.Time
	)
	err = scope.Conn.QueryRow(ctx, sql, orgID, queryID).Scan(
		&q.ID, &q.OrgID, &q.Name, &q.QueryText, &parameters, &q.LatestResultID,
		&q.CreatedAt, &q.UpdatedAt,
		&dsID, &dsName, &dsType, &dsConfig, &dsCreated, &dsUpdated,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("query %s: %w", queryID, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get query: %w", err)
	}

	if len(parameters) > 0 {
		if err := json.Unmarshal(parameters, &q.Schema); err != nil {
			return nil, fmt.Errorf("query %s has invalid parameters: %w", queryID, err)
		}
	}

	if dsID != nil {
		config, err := r.encryptor.DecodeConfig(*dsConfig)
		if err != nil {
			return nil, fmt.Errorf("datasource %s: %w", *dsID, err)
		}
		q.Datasource = &models.Datasource{
			ID:             *dsID,
			OrgID:          q.OrgID,
			Name:           *dsName,
			DatasourceType: *dsType,
			Config:         config,
			CreatedAt:      *dsCreated,
			UpdatedAt:      *dsUpdated,
		}
	}

	return &q, nil
}

func (r *queryRepository) GetResult(ctx context.Context, orgID, resultID uuid.UUID) (*models.QueryResult, error) {
	scope, err := r.db.WithTenant(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer scope.Close()

	sql := `
		SELECT id, org_id, query_id, columns, rows, retrieved_at
		FROM engine_query_results
		WHERE org_id = $1 AND id = $2`

	var (
		result  models.QueryResult
		columns []byte
		rows    []byte
	)
	err = scope.Conn.QueryRow(ctx, sql, orgID, resultID).Scan(
		&result.ID, &result.OrgID, &result.QueryID, &columns, &rows, &result.RetrievedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("result %s: %w", resultID, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get result: %w", err)
	}

	if err := json.Unmarshal(columns, &result.Columns); err != nil {
		return nil, fmt.Errorf("result %s has invalid columns: %w", resultID, err)
	}
	dec := json.NewDecoder(bytes.NewReader(rows))
	dec.UseNumber()
	if err := dec.Decode(&result.Rows); err != nil {
		return nil, fmt.Errorf("result %s has invalid rows: %w", resultID, err)
	}

	return &result, nil
}

func (r *queryRepository) CreateDatasource(ctx context.Context, ds *models.Datasource) error {
	scope, err := r.db.WithTenant(ctx, ds.OrgID)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer scope.Close()

	encoded, err := r.encryptor.EncodeConfig(ds.Config)
	if err != nil {
		return err
	}

	now := time.Now()
	if ds.ID == uuid.Nil {
		ds.ID = uuid.New()
	}
	ds.CreatedAt = now
	ds.UpdatedAt = now

	sql := `
		INSERT INTO engine_datasources (
			id, org_id, name, datasource_type, datasource_config, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = scope.Conn.Exec(ctx, sql,
		ds.ID, ds.OrgID, ds.Name, ds.DatasourceType, encoded, ds.CreatedAt, ds.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create datasource: %w", err)
	}
	return nil
}

func (r *queryRepository) CreateQuery(ctx context.Context, query *models.Query) error {
	scope, err := r.db.WithTenant(ctx, query.OrgID)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer scope.Close()

	schema := query.Schema
	if schema == nil {
		schema = models.Schema{}
	}
	parameters, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("failed to encode parameters: %w", err)
	}

	var datasourceID *uuid.UUID
	if query.Datasource != nil {
		datasourceID = &query.Datasource.ID
	}

	now := time.Now()
	if query.ID == uuid.Nil {
		query.ID = uuid.New()
	}
	query.CreatedAt = now
	query.UpdatedAt = now

	sql := `
		INSERT INTO engine_queries (
			id, org_id, datasource_id, name, query_text, parameters, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = scope.Conn.Exec(ctx, sql,
		query.ID, query.OrgID, datasourceID, query.Name, query.QueryText, parameters,
		query.CreatedAt, query.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create query: %w", err)
	}
	return nil
}

func (r *queryRepository) SaveResult(ctx context.Context, result *models.QueryResult) error {
	scope, err := r.db.WithTenant(ctx, result.OrgID)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer scope.Close()

	columns, err := json.Marshal(result.Columns)
	if err != nil {
		return fmt.Errorf("failed to encode columns: %w", err)
	}
	rows := result.Rows
	if rows == nil {
		rows = []map[string]any{}
	}
	rowsJSON, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("failed to encode rows: %w", err)
	}

	if result.ID == uuid.Nil {
		result.ID = uuid.New()
	}
	if result.RetrievedAt.IsZero() {
		result.RetrievedAt = time.Now()
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	_, err = tx.Exec(ctx, `
		INSERT INTO engine_query_results (id, org_id, query_id, columns, rows, retrieved_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		result.ID, result.OrgID, result.QueryID, columns, rowsJSON, result.RetrievedAt)
	if err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE engine_queries SET latest_result_id = $1, updated_at = NOW()
		WHERE org_id = $2 AND id = $3`,
		result.ID, result.OrgID, result.QueryID)
	if err != nil {
		return fmt.Errorf("failed to update latest result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("query %s: %w", result.QueryID, apperrors.ErrNotFound)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit result: %w", err)
	}
	return nil
}

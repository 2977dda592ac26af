//go:build integration

package repositories

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-paramquery/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-paramquery/pkg/crypto"
	"github.com/ekaya-inc/ekaya-paramquery/pkg/models"
	"github.com/ekaya-inc/ekaya-paramquery/pkg/testhelpers"
)

// queryTestContext holds all dependencies for query repository integration tests.
type queryTestContext struct {
	t        *testing.T
	engineDB *testhelpers.EngineDB
	repo     QueryRepository
	orgID    uuid.UUID
}

// setupQueryTest creates a test context with a real database and a fresh organization.
func setupQueryTest(t *testing.T) *queryTestContext {
	t.Helper()

	engineDB := testhelpers.GetEngineDB(t)
	enc, err := crypto.NewCredentialEncryptor("repository-test-key")
	require.NoError(t, err)

	tc := &queryTestContext{
		t:        t,
		engineDB: engineDB,
		repo:     NewQueryRepository(engineDB.DB, enc),
		orgID:    uuid.New(),
	}
	t.Cleanup(tc.cleanup)
	return tc
}

func (tc *queryTestContext) cleanup() {
	ctx := context.Background()
	_, _ = tc.engineDB.DB.Pool.Exec(ctx, "DELETE FROM engine_queries WHERE org_id = $1", tc.orgID)
	_, _ = tc.engineDB.DB.Pool.Exec(ctx, "DELETE FROM engine_datasources WHERE org_id = $1", tc.orgID)
}

func (tc *queryTestContext) createDatasource() *models.Datasource {
	tc.t.Helper()
	ds := &models.Datasource{
		OrgID:          tc.orgID,
		Name:           "warehouse",
		DatasourceType: "postgres",
		Config:         map[string]any{"host": "db", "port": 5432, "password": "s3cret"},
	}
	require.NoError(tc.t, tc.repo.CreateDatasource(context.Background(), ds))
	return ds
}

func TestQueryRepository_GetQueryWithDatasource(t *testing.T) {
	tc := setupQueryTest(t)
	ctx := context.Background()
	ds := tc.createDatasource()

	regionsQuery := uuid.New()
	var schema models.Schema
	require.NoError(t, json.Unmarshal([]byte(`[
		{"name":"region","type":"query","queryId":"`+regionsQuery.String()+`"},
		{"name":"city","type":"query","queryId":"`+regionsQuery.String()+`","parentParameter":"region"},
		{"name":"tags","type":"enum","enumOptions":"a\nb","multiValuesOptions":{"prefix":"'","suffix":"'"}}
	]`), &schema))

	query := &models.Query{
		OrgID:      tc.orgID,
		Name:       "people",
		QueryText:  "SELECT * FROM people WHERE region = '{{region}}'",
		Schema:     schema,
		Datasource: ds,
	}
	require.NoError(t, tc.repo.CreateQuery(ctx, query))

	got, err := tc.repo.GetQuery(ctx, tc.orgID, query.ID)
	require.NoError(t, err)

	assert.Equal(t, query.QueryText, got.QueryText)
	assert.Nil(t, got.LatestResultID)
	require.NotNil(t, got.Datasource)
	assert.Equal(t, ds.ID, got.Datasource.ID)
	assert.Equal(t, "postgres", got.Datasource.DatasourceType)
	assert.Equal(t, "s3cret", got.Datasource.Config["password"])
	assert.Equal(t, json.Number("5432"), got.Datasource.Config["port"])

	require.Len(t, got.Schema, 3)
	city, ok := got.Schema.Lookup("city")
	require.True(t, ok)
	assert.Equal(t, "region", city.ParentName)
	tags, ok := got.Schema.Lookup("tags")
	require.True(t, ok)
	assert.Equal(t, models.EnumOptions{"a", "b"}, tags.EnumOptions)
	assert.Equal(t, ",", tags.MultiValuesOptions.Separator)

	// Stored config is encrypted
	var stored string
	require.NoError(t, tc.engineDB.DB.Pool.QueryRow(ctx,
		"SELECT datasource_config FROM engine_datasources WHERE id = $1", ds.ID).Scan(&stored))
	assert.NotContains(t, stored, "s3cret")
}

func TestQueryRepository_DetachedQuery(t *testing.T) {
	tc := setupQueryTest(t)
	ctx := context.Background()

	query := &models.Query{OrgID: tc.orgID, QueryText: "SELECT 1"}
	require.NoError(t, tc.repo.CreateQuery(ctx, query))

	got, err := tc.repo.GetQuery(ctx, tc.orgID, query.ID)
	require.NoError(t, err)
	assert.True(t, got.IsDetached())
	assert.Empty(t, got.Schema)
}

func TestQueryRepository_NotFound(t *testing.T) {
	tc := setupQueryTest(t)
	ctx := context.Background()

	_, err := tc.repo.GetQuery(ctx, tc.orgID, uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = tc.repo.GetResult(ctx, tc.orgID, uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestQueryRepository_OrgIsolation(t *testing.T) {
	tc := setupQueryTest(t)
	ctx := context.Background()

	query := &models.Query{OrgID: tc.orgID, QueryText: "SELECT 1"}
	require.NoError(t, tc.repo.CreateQuery(ctx, query))

	_, err := tc.repo.GetQuery(ctx, uuid.New(), query.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestQueryRepository_SaveResultBecomesLatest(t *testing.T) {
	tc := setupQueryTest(t)
	ctx := context.Background()
	ds := tc.createDatasource()

	query := &models.Query{OrgID: tc.orgID, QueryText: "SELECT name FROM regions", Datasource: ds}
	require.NoError(t, tc.repo.CreateQuery(ctx, query))

	result := &models.QueryResult{
		OrgID:   tc.orgID,
		QueryID: query.ID,
		Columns: []models.ResultColumn{{Name: "name", Type: "TEXT"}},
		Rows:    []map[string]any{{"name": "north"}, {"name": "south"}},
	}
	require.NoError(t, tc.repo.SaveResult(ctx, result))

	got, err := tc.repo.GetQuery(ctx, tc.orgID, query.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LatestResultID)
	assert.Equal(t, result.ID, *got.LatestResultID)

	stored, err := tc.repo.GetResult(ctx, tc.orgID, result.ID)
	require.NoError(t, err)
	assert.Equal(t, query.ID, stored.QueryID)
	assert.Equal(t, result.Columns, stored.Columns)
	assert.Equal(t, result.Rows, stored.Rows)
}

func TestQueryRepository_SaveResultUnknownQuery(t *testing.T) {
	tc := setupQueryTest(t)

	err := tc.repo.SaveResult(context.Background(), &models.QueryResult{
		OrgID:   tc.orgID,
		QueryID: uuid.New(),
		Columns: []models.ResultColumn{{Name: "x"}},
	})
	assert.Error(t, err)
}

//go:build integration

package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-paramquery/pkg/adapters/datasource"
	_ "github.com/ekaya-inc/ekaya-paramquery/pkg/adapters/datasource/postgres"
	"github.com/ekaya-inc/ekaya-paramquery/pkg/config"
	"github.com/ekaya-inc/ekaya-paramquery/pkg/models"
	"github.com/ekaya-inc/ekaya-paramquery/pkg/paramquery"
	"github.com/ekaya-inc/ekaya-paramquery/pkg/repositories"
	"github.com/ekaya-inc/ekaya-paramquery/pkg/testhelpers"
)

func TestQueryRenderService_Integration_DependentDropdowns(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	engineDB := testhelpers.GetEngineDB(t)
	ctx := context.Background()
	orgID := uuid.New()

	t.Cleanup(func() {
		_, _ = engineDB.DB.Pool.Exec(ctx, "DELETE FROM engine_queries WHERE org_id = $1", orgID)
		_, _ = engineDB.DB.Pool.Exec(ctx, "DELETE FROM engine_datasources WHERE org_id = $1", orgID)
	})

	repo := repositories.NewQueryRepository(engineDB.DB, nil)
	ds := &models.Datasource{OrgID: orgID, Name: "test_data", DatasourceType: "postgres", Config: testDB.DatasourceConfig()}
	require.NoError(t, repo.CreateDatasource(ctx, ds))

	regions := &models.Query{OrgID: orgID, Name: "regions", Datasource: ds,
		QueryText: "SELECT name AS value FROM regions ORDER BY id"}
	require.NoError(t, repo.CreateQuery(ctx, regions))

	cities := &models.Query{OrgID: orgID, Name: "cities", Datasource: ds,
		QueryText: "SELECT name AS value FROM cities WHERE region = '{{region}}' ORDER BY id"}
	require.NoError(t, repo.CreateQuery(ctx, cities))

	report := &models.Query{OrgID: orgID, Name: "report", Datasource: ds,
		QueryText: "SELECT * FROM cities WHERE region = '{{region}}' AND name = '{{city}}'",
		Schema: models.Schema{
			queryParam("region", regions.ID),
			{Name: "city", Type: models.ParameterTypeQuery, QueryID: &cities.ID, ParentName: "region"},
		}}
	require.NoError(t, repo.CreateQuery(ctx, report))

	pool := datasource.NewRunnerPool(datasource.RunnerPoolConfig{},
		datasource.NewDatasourceAdapterFactory(datasource.RunnerOptions{PoolMaxConns: 2}), zap.NewNop())
	t.Cleanup(func() { _ = pool.Close() })

	svc := NewQueryRenderService(repo, pool, &config.EngineConfig{MaxParallelValidations: 4}, zap.NewNop())

	result, err := svc.Render(ctx, orgID, report.ID, map[string]any{"region": "south", "city": "Lisbon"})
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM cities WHERE region = 'south' AND name = 'Lisbon'", result.Text)
	assert.Empty(t, result.MissingParameters)

	// Oslo is a city, but not one of the south region's
	_, err = svc.Render(ctx, orgID, report.ID, map[string]any{"region": "south", "city": "Oslo"})
	var invalid *paramquery.InvalidParameterError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, []string{"city"}, invalid.Names)

	options, err := svc.AssociatedDropdownOptions(ctx, orgID, report.ID, cities.ID, map[string]any{"region": "north"})
	require.NoError(t, err)
	assert.Equal(t, []paramquery.DropdownOption{
		{Name: "Oslo", Value: "Oslo"},
		{Name: "Bergen", Value: "Bergen"},
	}, options)

	refreshed, err := svc.RefreshResult(ctx, orgID, regions.ID)
	require.NoError(t, err)
	assert.Len(t, refreshed.Rows, 3)

	stored, err := repo.GetQuery(ctx, orgID, regions.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LatestResultID)
	assert.Equal(t, refreshed.ID, *stored.LatestResultID)
}

package datasource

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-paramquery/pkg/models"
	"github.com/ekaya-inc/ekaya-paramquery/pkg/retry"
)

type stubFactory struct {
	mu     sync.Mutex
	opened []*fakeRunner
	err    error
}

func (f *stubFactory) NewRunner(ctx context.Context, dsType string, config map[string]any) (QueryRunner, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	r := &fakeRunner{config: config}
	f.opened = append(f.opened, r)
	return r, nil
}

func (f *stubFactory) ListTypes() []DatasourceAdapterInfo { return nil }

func (f *stubFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.opened)
}

func newTestPool(t *testing.T, cfg RunnerPoolConfig, factory DatasourceAdapterFactory) *RunnerPool {
	t.Helper()
	pool := NewRunnerPool(cfg, factory, zaptest.NewLogger(t))
	pool.healthRetry = retry.WithMaxRetries(0)
	t.Cleanup(func() { pool.Close() })
	return pool
}

func newDatasource(orgID uuid.UUID) *models.Datasource {
	return &models.Datasource{
		ID:             uuid.New(),
		OrgID:          orgID,
		DatasourceType: "postgres",
		Config:         map[string]any{"host": "localhost"},
		UpdatedAt:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestRunnerPool_Reuse(t *testing.T) {
	factory := &stubFactory{}
	pool := newTestPool(t, RunnerPoolConfig{}, factory)
	orgID := uuid.New()
	ds := newDatasource(orgID)

	r1, err := pool.RunnerFor(context.Background(), orgID, ds)
	require.NoError(t, err)
	r2, err := pool.RunnerFor(context.Background(), orgID, ds)
	require.NoError(t, err)

	assert.Equal(t, 1, factory.count(), "second lookup should reuse the runner")
	assert.Same(t, r1.(*borrowedRunner).QueryRunner, r2.(*borrowedRunner).QueryRunner)

	stats := pool.GetStats()
	assert.Equal(t, 1, stats.TotalRunners)
	assert.Equal(t, 1, stats.RunnersByOrg[orgID.String()])
	assert.Equal(t, 1, stats.RunnersByType["postgres"])
}

func TestRunnerPool_DifferentDatasources(t *testing.T) {
	factory := &stubFactory{}
	pool := newTestPool(t, RunnerPoolConfig{}, factory)
	orgID := uuid.New()

	_, err := pool.RunnerFor(context.Background(), orgID, newDatasource(orgID))
	require.NoError(t, err)
	_, err = pool.RunnerFor(context.Background(), orgID, newDatasource(orgID))
	require.NoError(t, err)

	assert.Equal(t, 2, factory.count())
	assert.Equal(t, 2, pool.GetStats().TotalRunners)
}

func TestRunnerPool_SameDatasourceDifferentOrgs(t *testing.T) {
	factory := &stubFactory{}
	pool := newTestPool(t, RunnerPoolConfig{}, factory)
	ds := newDatasource(uuid.New())

	_, err := pool.RunnerFor(context.Background(), uuid.New(), ds)
	require.NoError(t, err)
	_, err = pool.RunnerFor(context.Background(), uuid.New(), ds)
	require.NoError(t, err)

	assert.Equal(t, 2, factory.count(), "runners are never shared across organizations")
}

func TestRunnerPool_MaxRunnersPerOrg(t *testing.T) {
	factory := &stubFactory{}
	pool := newTestPool(t, RunnerPoolConfig{MaxRunnersPerOrg: 2}, factory)
	orgID := uuid.New()

	for i := 0; i < 2; i++ {
		_, err := pool.RunnerFor(context.Background(), orgID, newDatasource(orgID))
		require.NoError(t, err)
	}

	_, err := pool.RunnerFor(context.Background(), orgID, newDatasource(orgID))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maximum runners limit")

	// Another organization is unaffected
	other := uuid.New()
	_, err = pool.RunnerFor(context.Background(), other, newDatasource(other))
	require.NoError(t, err)
}

func TestRunnerPool_HealthCheckRecovery(t *testing.T) {
	factory := &stubFactory{}
	pool := newTestPool(t, RunnerPoolConfig{}, factory)
	orgID := uuid.New()
	ds := newDatasource(orgID)

	runner, err := pool.RunnerFor(context.Background(), orgID, ds)
	require.NoError(t, err)
	require.NoError(t, runner.Close())

	first := factory.opened[0]
	first.pingErr = errors.New("connection reset")

	_, err = pool.RunnerFor(context.Background(), orgID, ds)
	require.NoError(t, err)

	assert.Equal(t, 2, factory.count(), "unhealthy runner should be reopened")
	assert.Equal(t, 1, first.closed)
}

func TestRunnerPool_DatasourceUpdateReopens(t *testing.T) {
	factory := &stubFactory{}
	pool := newTestPool(t, RunnerPoolConfig{}, factory)
	orgID := uuid.New()
	ds := newDatasource(orgID)

	runner, err := pool.RunnerFor(context.Background(), orgID, ds)
	require.NoError(t, err)
	require.NoError(t, runner.Close())

	updated := *ds
	updated.UpdatedAt = ds.UpdatedAt.Add(time.Minute)
	_, err = pool.RunnerFor(context.Background(), orgID, &updated)
	require.NoError(t, err)

	assert.Equal(t, 2, factory.count())
	assert.Equal(t, 1, factory.opened[0].closed)
	assert.Equal(t, 1, pool.GetStats().TotalRunners)
}

func TestRunnerPool_ReopenWaitsForBorrowedRunner(t *testing.T) {
	factory := &stubFactory{}
	pool := newTestPool(t, RunnerPoolConfig{}, factory)
	orgID := uuid.New()
	ds := newDatasource(orgID)

	inFlight, err := pool.RunnerFor(context.Background(), orgID, ds)
	require.NoError(t, err)

	updated := *ds
	updated.UpdatedAt = ds.UpdatedAt.Add(time.Minute)
	fresh, err := pool.RunnerFor(context.Background(), orgID, &updated)
	require.NoError(t, err)
	require.Equal(t, 2, factory.count())

	old := factory.opened[0]
	assert.Equal(t, 0, old.closed, "runner still in use must stay open")
	_, err = inFlight.Run(context.Background(), "SELECT 1")
	require.NoError(t, err)

	require.NoError(t, inFlight.Close())
	assert.Equal(t, 1, old.closed, "last release closes the replaced runner")

	require.NoError(t, fresh.Close())
	assert.Equal(t, 0, factory.opened[1].closed)
}

func TestRunnerPool_HealthCheckRecoveryWaitsForBorrowedRunner(t *testing.T) {
	factory := &stubFactory{}
	pool := newTestPool(t, RunnerPoolConfig{}, factory)
	orgID := uuid.New()
	ds := newDatasource(orgID)

	inFlight, err := pool.RunnerFor(context.Background(), orgID, ds)
	require.NoError(t, err)

	first := factory.opened[0]
	first.pingErr = errors.New("connection reset")

	_, err = pool.RunnerFor(context.Background(), orgID, ds)
	require.NoError(t, err)
	assert.Equal(t, 0, first.closed)

	require.NoError(t, inFlight.Close())
	assert.Equal(t, 1, first.closed)
}

func TestRunnerPool_BorrowedRunnerClose(t *testing.T) {
	factory := &stubFactory{}
	pool := newTestPool(t, RunnerPoolConfig{}, factory)
	orgID := uuid.New()

	runner, err := pool.RunnerFor(context.Background(), orgID, newDatasource(orgID))
	require.NoError(t, err)
	other, err := pool.RunnerFor(context.Background(), orgID, newDatasource(orgID))
	require.NoError(t, err)

	managed := runner.(*borrowedRunner).managed
	require.NoError(t, runner.Close())
	require.NoError(t, runner.Close(), "closing twice is harmless")

	assert.Equal(t, 0, managed.borrowed)
	assert.Equal(t, 0, factory.opened[0].closed, "pooled runner stays open")
	require.NoError(t, other.Close())
}

func TestRunnerPool_TTLExpiration(t *testing.T) {
	factory := &stubFactory{}
	pool := newTestPool(t, RunnerPoolConfig{TTLMinutes: 1}, factory)
	orgID := uuid.New()

	runner, err := pool.RunnerFor(context.Background(), orgID, newDatasource(orgID))
	require.NoError(t, err)
	require.NoError(t, runner.Close())

	pool.performCleanup(time.Now())
	assert.Equal(t, 1, pool.GetStats().TotalRunners, "fresh runner survives cleanup")

	pool.performCleanup(time.Now().Add(2 * time.Minute))
	assert.Equal(t, 0, pool.GetStats().TotalRunners)
	assert.Equal(t, 1, factory.opened[0].closed)
}

func TestRunnerPool_CleanupSkipsBorrowedRunners(t *testing.T) {
	factory := &stubFactory{}
	pool := newTestPool(t, RunnerPoolConfig{TTLMinutes: 1}, factory)
	orgID := uuid.New()

	runner, err := pool.RunnerFor(context.Background(), orgID, newDatasource(orgID))
	require.NoError(t, err)

	pool.performCleanup(time.Now().Add(2 * time.Minute))
	assert.Equal(t, 1, pool.GetStats().TotalRunners)
	assert.Equal(t, 0, factory.opened[0].closed)

	require.NoError(t, runner.Close())
	pool.performCleanup(time.Now().Add(2 * time.Minute))
	assert.Equal(t, 0, pool.GetStats().TotalRunners)
	assert.Equal(t, 1, factory.opened[0].closed)
}

func TestRunnerPool_FactoryError(t *testing.T) {
	factory := &stubFactory{err: errors.New("password authentication failed for user \"x\"")}
	pool := newTestPool(t, RunnerPoolConfig{}, factory)
	orgID := uuid.New()

	_, err := pool.RunnerFor(context.Background(), orgID, newDatasource(orgID))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open postgres runner")
	assert.Equal(t, 0, pool.GetStats().TotalRunners)
}

func TestRunnerPool_NilDatasource(t *testing.T) {
	pool := newTestPool(t, RunnerPoolConfig{}, &stubFactory{})
	_, err := pool.RunnerFor(context.Background(), uuid.New(), nil)
	require.Error(t, err)
}

func TestRunnerPool_Close(t *testing.T) {
	factory := &stubFactory{}
	pool := newTestPool(t, RunnerPoolConfig{}, factory)
	orgID := uuid.New()

	for i := 0; i < 2; i++ {
		runner, err := pool.RunnerFor(context.Background(), orgID, newDatasource(orgID))
		require.NoError(t, err)
		require.NoError(t, runner.Close())
	}
	inFlight, err := pool.RunnerFor(context.Background(), orgID, newDatasource(orgID))
	require.NoError(t, err)

	require.NoError(t, pool.Close())
	require.NoError(t, pool.Close(), "Close is idempotent")

	assert.Equal(t, 1, factory.opened[0].closed)
	assert.Equal(t, 1, factory.opened[1].closed)
	assert.Equal(t, 0, factory.opened[2].closed, "borrowed runner closes on release")

	require.NoError(t, inFlight.Close())
	assert.Equal(t, 1, factory.opened[2].closed)

	_, err = pool.RunnerFor(context.Background(), orgID, newDatasource(orgID))
	require.Error(t, err)
}

func TestRunnerPool_ConcurrentAccess(t *testing.T) {
	factory := &stubFactory{}
	pool := newTestPool(t, RunnerPoolConfig{MaxRunnersPerOrg: 50}, factory)
	orgID := uuid.New()
	ds := newDatasource(orgID)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runner, err := pool.RunnerFor(context.Background(), orgID, ds)
			if err != nil {
				errs <- fmt.Errorf("RunnerFor: %w", err)
				return
			}
			if _, err := runner.Run(context.Background(), "SELECT 1"); err != nil {
				errs <- fmt.Errorf("Run: %w", err)
			}
			_ = runner.Close()
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	assert.Equal(t, 1, pool.GetStats().TotalRunners)
	assert.Equal(t, 0, factory.opened[0].closed)
}

func TestRunnerPool_Defaults(t *testing.T) {
	pool := newTestPool(t, RunnerPoolConfig{}, &stubFactory{})
	stats := pool.GetStats()
	assert.Equal(t, DefaultConnectionTTLMinutes, stats.TTLMinutes)
	assert.Equal(t, DefaultMaxRunnersPerOrg, stats.MaxRunnersPerOrg)
}

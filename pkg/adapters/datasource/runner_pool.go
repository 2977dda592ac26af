package datasource

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-paramquery/pkg/logging"
	"github.com/ekaya-inc/ekaya-paramquery/pkg/models"
	"github.com/ekaya-inc/ekaya-paramquery/pkg/retry"
)

const (
	DefaultConnectionTTLMinutes = 5
	DefaultCleanupInterval      = 1 * time.Minute
	DefaultMaxRunnersPerOrg     = 10
	DefaultHealthCheckTimeout   = 5 * time.Second
)

// RunnerPoolConfig holds configuration for the runner pool.
type RunnerPoolConfig struct {
	TTLMinutes       int
	MaxRunnersPerOrg int
}

// RunnerPool caches one runner per datasource for multi-tenant access,
// with TTL-based eviction and automatic cleanup.
type RunnerPool struct {
	mu               sync.RWMutex
	runners          map[string]*managedRunner // key: "{orgId}:{datasourceId}"
	factory          DatasourceAdapterFactory
	ttl              time.Duration
	maxRunnersPerOrg int
	healthRetry      *retry.Config
	stopped          bool
	stopChan         chan struct{}
	logger           *zap.Logger
}

type managedRunner struct {
	runner   QueryRunner
	dsType   string
	version  time.Time // datasource UpdatedAt when the runner was opened
	lastUsed time.Time
	borrowed int  // handles returned by RunnerFor and not yet closed
	retired  bool // evicted from the pool; closed once borrowed drops to zero
	mu       sync.Mutex
}

// NewRunnerPool creates a runner pool that opens runners through factory.
// Starts a background cleanup goroutine that runs until Close() is called.
func NewRunnerPool(cfg RunnerPoolConfig, factory DatasourceAdapterFactory, logger *zap.Logger) *RunnerPool {
	if cfg.TTLMinutes <= 0 {
		cfg.TTLMinutes = DefaultConnectionTTLMinutes
	}
	if cfg.MaxRunnersPerOrg <= 0 {
		cfg.MaxRunnersPerOrg = DefaultMaxRunnersPerOrg
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	pool := &RunnerPool{
		runners:          make(map[string]*managedRunner),
		factory:          factory,
		ttl:              time.Duration(cfg.TTLMinutes) * time.Minute,
		maxRunnersPerOrg: cfg.MaxRunnersPerOrg,
		healthRetry:      retry.DefaultConfig(),
		stopChan:         make(chan struct{}),
		logger:           logger.Named("runner-pool"),
	}

	go pool.cleanupExpiredRunners()
	return pool
}

func runnerKey(orgID, datasourceID uuid.UUID) string {
	return fmt.Sprintf("%s:%s", orgID, datasourceID)
}

// countRunnersForOrg counts cached runners of one organization.
// Caller must hold p.mu lock.
func (p *RunnerPool) countRunnersForOrg(orgID uuid.UUID) int {
	prefix := orgID.String() + ":"
	count := 0
	for key := range p.runners {
		if strings.HasPrefix(key, prefix) {
			count++
		}
	}
	return count
}

// RunnerFor gets or opens the runner for ds. A cached runner is health
// checked before reuse and reopened if unhealthy or if the datasource was
// updated since it was opened. Closing the returned runner hands it back to
// the pool; the underlying runner stays open until the pool evicts it and no
// caller still holds it.
func (p *RunnerPool) RunnerFor(ctx context.Context, orgID uuid.UUID, ds *models.Datasource) (QueryRunner, error) {
	if ds == nil {
		return nil, fmt.Errorf("datasource is required")
	}
	key := runnerKey(orgID, ds.ID)

	// Try existing runner with read lock (fast path)
	p.mu.RLock()
	managed, exists := p.runners[key]
	p.mu.RUnlock()

	if exists {
		managed.mu.Lock()

		// Evicted between the map lookup and taking the runner lock
		if managed.retired {
			managed.mu.Unlock()
			return p.createRunner(ctx, key, orgID, ds)
		}

		if !managed.version.Equal(ds.UpdatedAt) {
			p.logger.Info("datasource changed, reopening runner", zap.String("key", key))
			managed.mu.Unlock()
			p.removeRunner(key, managed)
			return p.createRunner(ctx, key, orgID, ds)
		}

		healthCtx, cancel := context.WithTimeout(ctx, DefaultHealthCheckTimeout)
		defer cancel()

		err := retry.Do(healthCtx, p.healthRetry, func() error {
			return managed.runner.Ping(healthCtx)
		})
		if err != nil {
			p.logger.Warn("runner unhealthy, recreating",
				zap.String("key", key),
				zap.String("error", logging.SanitizeError(err)),
			)
			managed.mu.Unlock()
			p.removeRunner(key, managed)
			return p.createRunner(ctx, key, orgID, ds)
		}

		borrowed := p.lend(key, managed)
		managed.mu.Unlock()
		return borrowed, nil
	}

	return p.createRunner(ctx, key, orgID, ds)
}

// createRunner opens a new runner.
// Caller must NOT hold any locks (this method acquires write lock).
func (p *RunnerPool) createRunner(ctx context.Context, key string, orgID uuid.UUID, ds *models.Datasource) (QueryRunner, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil, fmt.Errorf("runner pool is closed")
	}

	// Double-check after acquiring write lock (another goroutine may have created it)
	if managed, exists := p.runners[key]; exists {
		if managed.version.Equal(ds.UpdatedAt) {
			managed.mu.Lock()
			defer managed.mu.Unlock()
			return p.lend(key, managed), nil
		}
		delete(p.runners, key)
		p.retire(key, managed)
	}

	orgCount := p.countRunnersForOrg(orgID)
	if orgCount >= p.maxRunnersPerOrg {
		p.logger.Warn("organization reached max runners limit",
			zap.String("orgID", orgID.String()),
			zap.Int("current", orgCount),
			zap.Int("max", p.maxRunnersPerOrg),
		)
		return nil, fmt.Errorf("organization %s has reached maximum runners limit (%d)", orgID, p.maxRunnersPerOrg)
	}

	runner, err := p.factory.NewRunner(ctx, ds.DatasourceType, ds.Config)
	if err != nil {
		p.logger.Error("failed to open runner",
			zap.String("key", key),
			zap.String("type", ds.DatasourceType),
			zap.String("error", logging.SanitizeError(err)),
		)
		return nil, fmt.Errorf("failed to open %s runner for datasource %s: %w", ds.DatasourceType, ds.ID, err)
	}

	managed := &managedRunner{
		runner:   runner,
		dsType:   ds.DatasourceType,
		version:  ds.UpdatedAt,
		lastUsed: time.Now(),
	}
	p.runners[key] = managed

	p.logger.Info("opened datasource runner",
		zap.String("key", key),
		zap.String("type", ds.DatasourceType),
		zap.Int("orgTotalRunners", orgCount+1),
	)

	managed.mu.Lock()
	defer managed.mu.Unlock()
	return p.lend(key, managed), nil
}

// lend hands out a borrowed handle on managed.
// Caller must hold managed.mu.
func (p *RunnerPool) lend(key string, managed *managedRunner) *borrowedRunner {
	managed.borrowed++
	managed.lastUsed = time.Now()
	return &borrowedRunner{QueryRunner: managed.runner, pool: p, key: key, managed: managed}
}

// release returns a borrowed handle, closing the runner if it was retired
// while borrowed.
func (p *RunnerPool) release(key string, managed *managedRunner) {
	managed.mu.Lock()
	managed.borrowed--
	managed.lastUsed = time.Now()
	closeNow := managed.retired && managed.borrowed == 0
	managed.mu.Unlock()

	if closeNow {
		p.closeRunner(key, managed)
	}
}

// retire marks managed as evicted. It is closed now if idle, otherwise by the
// last release.
func (p *RunnerPool) retire(key string, managed *managedRunner) {
	managed.mu.Lock()
	managed.retired = true
	closeNow := managed.borrowed == 0
	managed.mu.Unlock()

	if closeNow {
		p.closeRunner(key, managed)
	} else {
		p.logger.Debug("runner retired while borrowed", zap.String("key", key))
	}
}

// removeRunner retires and forgets the runner under key, unless another
// goroutine already replaced it.
// Caller must NOT hold p.mu lock (this method acquires write lock).
func (p *RunnerPool) removeRunner(key string, managed *managedRunner) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if current, exists := p.runners[key]; exists && current == managed {
		delete(p.runners, key)
		p.retire(key, managed)
	}
}

func (p *RunnerPool) closeRunner(key string, managed *managedRunner) {
	if managed == nil || managed.runner == nil {
		return
	}
	if err := managed.runner.Close(); err != nil {
		p.logger.Warn("failed to close runner",
			zap.String("key", key),
			zap.String("error", logging.SanitizeError(err)),
		)
	}
}

// cleanupExpiredRunners runs periodically to remove idle runners.
// Runs in a background goroutine until stopChan is closed.
func (p *RunnerPool) cleanupExpiredRunners() {
	ticker := time.NewTicker(DefaultCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.performCleanup(time.Now())
		case <-p.stopChan:
			return
		}
	}
}

// performCleanup removes runners that haven't been used within TTL of now.
// Borrowed runners are in use and never expire.
// Lock ordering: pool lock, then runner lock.
func (p *RunnerPool) performCleanup(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return
	}

	var expiredKeys []string
	for key, managed := range p.runners {
		managed.mu.Lock()
		idleTime := now.Sub(managed.lastUsed)
		inUse := managed.borrowed > 0
		managed.mu.Unlock()

		if !inUse && idleTime > p.ttl {
			expiredKeys = append(expiredKeys, key)
			p.logger.Debug("marking runner for cleanup",
				zap.String("key", key),
				zap.Duration("idleTime", idleTime),
				zap.Duration("ttl", p.ttl),
			)
		}
	}

	for _, key := range expiredKeys {
		p.retire(key, p.runners[key])
		delete(p.runners, key)
	}

	if len(expiredKeys) > 0 {
		p.logger.Info("cleaned up expired runners",
			zap.Int("count", len(expiredKeys)),
			zap.Int("remaining", len(p.runners)),
		)
	}
}

// Close closes all runners and stops the cleanup goroutine. Runners still
// borrowed are closed when their last handle is closed.
// This method is idempotent and safe to call multiple times.
func (p *RunnerPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil
	}

	p.stopped = true
	close(p.stopChan)

	for key, managed := range p.runners {
		p.retire(key, managed)
	}

	p.runners = make(map[string]*managedRunner)
	p.logger.Info("runner pool closed")
	return nil
}

// GetStats returns statistics about the pool.
// Safe to call concurrently.
func (p *RunnerPool) GetStats() RunnerPoolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	now := time.Now()
	stats := RunnerPoolStats{
		TotalRunners:     len(p.runners),
		MaxRunnersPerOrg: p.maxRunnersPerOrg,
		TTLMinutes:       int(p.ttl.Minutes()),
		RunnersByOrg:     make(map[string]int),
		RunnersByType:    make(map[string]int),
	}

	for key, managed := range p.runners {
		// Parse from key "{orgId}:{datasourceId}"
		if orgID, _, ok := strings.Cut(key, ":"); ok {
			stats.RunnersByOrg[orgID]++
		}
		stats.RunnersByType[managed.dsType]++

		managed.mu.Lock()
		idleSeconds := int(now.Sub(managed.lastUsed).Seconds())
		managed.mu.Unlock()
		if idleSeconds > stats.OldestIdleSeconds {
			stats.OldestIdleSeconds = idleSeconds
		}
	}

	return stats
}

// RunnerPoolStats contains statistics about the runner pool state.
type RunnerPoolStats struct {
	TotalRunners      int            `json:"total_runners"`
	MaxRunnersPerOrg  int            `json:"max_runners_per_org"`
	TTLMinutes        int            `json:"ttl_minutes"`
	RunnersByOrg      map[string]int `json:"runners_by_org"`
	RunnersByType     map[string]int `json:"runners_by_type"`
	OldestIdleSeconds int            `json:"oldest_idle_seconds"`
}

// borrowedRunner is a caller's handle on a pooled runner. Close returns the
// handle instead of closing the runner; the pool decides when that happens.
type borrowedRunner struct {
	QueryRunner
	pool    *RunnerPool
	key     string
	managed *managedRunner
	once    sync.Once
}

func (b *borrowedRunner) Close() error {
	b.once.Do(func() { b.pool.release(b.key, b.managed) })
	return nil
}

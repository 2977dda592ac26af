package datasource

import (
	"context"
	"sort"
	"sync"
	"time"
)

// DatasourceAdapterInfo describes a registered adapter.
type DatasourceAdapterInfo struct {
	Type        string `json:"type"`         // "postgres", "sqlserver", "mysql", "sqlite"
	DisplayName string `json:"display_name"` // "PostgreSQL", "Microsoft SQL Server"
	Description string `json:"description"`  // "Connect to PostgreSQL 12+"
}

// RunnerOptions carries pool sizing shared by every adapter.
type RunnerOptions struct {
	PoolMaxConns int32
	PoolMinConns int32
	MaxIdleTime  time.Duration
}

// RunnerFactory opens a runner for one datasource config.
type RunnerFactory func(ctx context.Context, config map[string]any, opts RunnerOptions) (QueryRunner, error)

// DatasourceAdapterRegistration contains info + factory for creating runners.
type DatasourceAdapterRegistration struct {
	Info    DatasourceAdapterInfo
	Factory RunnerFactory
	// Aliases are additional type names that resolve to this adapter.
	Aliases []string
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]DatasourceAdapterRegistration)
)

// Register is called by each adapter's init() function.
// Thread-safe for concurrent init() calls.
func Register(reg DatasourceAdapterRegistration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[reg.Info.Type] = reg
	for _, alias := range reg.Aliases {
		registry[alias] = reg
	}
}

// RegisteredAdapters returns info for all registered adapters, sorted by type.
func RegisteredAdapters() []DatasourceAdapterInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()

	seen := make(map[string]bool, len(registry))
	result := make([]DatasourceAdapterInfo, 0, len(registry))
	for _, reg := range registry {
		if seen[reg.Info.Type] {
			continue
		}
		seen[reg.Info.Type] = true
		result = append(result, reg.Info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Type < result[j].Type })
	return result
}

// GetFactory returns the runner factory for a datasource type.
// Returns nil if type is not registered.
func GetFactory(dsType string) RunnerFactory {
	registryMu.RLock()
	defer registryMu.RUnlock()

	if reg, ok := registry[dsType]; ok {
		return reg.Factory
	}
	return nil
}

// IsRegistered checks if an adapter type is available.
func IsRegistered(dsType string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[dsType]
	return ok
}

package datasource

import (
	"context"
	"fmt"

	"github.com/ekaya-inc/ekaya-paramquery/pkg/apperrors"
)

// DatasourceAdapterFactory creates runners from the registry.
type DatasourceAdapterFactory interface {
	// NewRunner opens a runner for the given datasource type and config.
	NewRunner(ctx context.Context, dsType string, config map[string]any) (QueryRunner, error)

	// ListTypes returns info for all registered adapter types.
	ListTypes() []DatasourceAdapterInfo
}

type registryFactory struct {
	opts RunnerOptions
}

// NewDatasourceAdapterFactory returns a factory that uses the global registry.
func NewDatasourceAdapterFactory(opts RunnerOptions) DatasourceAdapterFactory {
	return &registryFactory{opts: opts}
}

func (f *registryFactory) NewRunner(ctx context.Context, dsType string, config map[string]any) (QueryRunner, error) {
	factory := GetFactory(dsType)
	if factory == nil {
		return nil, fmt.Errorf("%w: %s (not compiled in)", apperrors.ErrUnsupportedDatasource, dsType)
	}
	return factory(ctx, config, f.opts)
}

func (f *registryFactory) ListTypes() []DatasourceAdapterInfo {
	return RegisteredAdapters()
}

// Ensure registryFactory implements DatasourceAdapterFactory at compile time.
var _ DatasourceAdapterFactory = (*registryFactory)(nil)

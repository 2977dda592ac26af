package sqlite

import (
	"context"

	"github.com/ekaya-inc/ekaya-paramquery/pkg/adapters/datasource"
)

func init() {
	datasource.Register(datasource.DatasourceAdapterRegistration{
		Info: datasource.DatasourceAdapterInfo{
			Type:        "sqlite",
			DisplayName: "SQLite",
			Description: "Query a local SQLite 3 database file",
		},
		Aliases: []string{"sqlite3"},
		Factory: func(ctx context.Context, config map[string]any, opts datasource.RunnerOptions) (datasource.QueryRunner, error) {
			cfg, err := FromMap(config)
			if err != nil {
				return nil, err
			}
			return NewRunner(ctx, cfg, opts)
		},
	})
}

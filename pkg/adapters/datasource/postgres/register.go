package postgres

import (
	"context"

	"github.com/ekaya-inc/ekaya-paramquery/pkg/adapters/datasource"
)

func init() {
	datasource.Register(datasource.DatasourceAdapterRegistration{
		Info: datasource.DatasourceAdapterInfo{
			Type:        "postgres",
			DisplayName: "PostgreSQL",
			Description: "Connect to PostgreSQL 12+, Aurora PostgreSQL, Supabase",
		},
		Aliases: []string{"pg", "postgresql"},
		Factory: func(ctx context.Context, config map[string]any, opts datasource.RunnerOptions) (datasource.QueryRunner, error) {
			cfg, err := FromMap(config)
			if err != nil {
				return nil, err
			}
			return NewRunner(ctx, cfg, opts)
		},
	})
}

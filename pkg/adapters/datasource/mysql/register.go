package mysql

import (
	"context"

	"github.com/ekaya-inc/ekaya-paramquery/pkg/adapters/datasource"
)

func init() {
	datasource.Register(datasource.DatasourceAdapterRegistration{
		Info: datasource.DatasourceAdapterInfo{
			Type:        "mysql",
			DisplayName: "MySQL",
			Description: "Connect to MySQL 5.7+, MariaDB, Aurora MySQL",
		},
		Aliases: []string{"mariadb"},
		Factory: func(ctx context.Context, config map[string]any, opts datasource.RunnerOptions) (datasource.QueryRunner, error) {
			cfg, err := FromMap(config)
			if err != nil {
				return nil, err
			}
			return NewRunner(ctx, cfg, opts)
		},
	})
}

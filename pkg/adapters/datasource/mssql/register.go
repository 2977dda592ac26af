package mssql

import (
	"context"

	"github.com/ekaya-inc/ekaya-paramquery/pkg/adapters/datasource"
)

func init() {
	datasource.Register(datasource.DatasourceAdapterRegistration{
		Info: datasource.DatasourceAdapterInfo{
			Type:        "sqlserver",
			DisplayName: "Microsoft SQL Server",
			Description: "Connect to SQL Server 2016+, Azure SQL Database",
		},
		Aliases: []string{"mssql"},
		Factory: func(ctx context.Context, config map[string]any, opts datasource.RunnerOptions) (datasource.QueryRunner, error) {
			cfg, err := FromMap(config)
			if err != nil {
				return nil, err
			}
			return NewRunner(ctx, cfg, opts)
		},
	})
}

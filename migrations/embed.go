// Package migrations embeds the query store schema migrations.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

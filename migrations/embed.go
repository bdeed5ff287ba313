// Package migrations embeds the SQL migration files for use with goose.
package migrations

import "embed"

// FS contains the catalog and filter definition migrations.
//
//go:embed *.sql
var FS embed.FS

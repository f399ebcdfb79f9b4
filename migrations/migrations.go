// Package migrations embeds the SQL schema applied by goose.
package migrations

import "embed"

// FS holds the goose-annotated migration files.
//
//go:embed *.sql
var FS embed.FS

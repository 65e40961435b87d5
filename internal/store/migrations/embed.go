// Package migrations embeds the schema migration files for the snapshot
// store.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

// Package migrations embeds the local store schema.
package migrations

import "embed"

// FS holds the ordered *.sql migration files
//
//go:embed *.sql
var FS embed.FS

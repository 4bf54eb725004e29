// Package migrations embeds the SQL migration files for the order-state
// database.
package migrations

import "embed"

// Files holds the versioned migration scripts.
//
//go:embed *.sql
var Files embed.FS

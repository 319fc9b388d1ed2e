// Package migrations embeds the SQL schema of the sqlite log repository.
package migrations

import "embed"

// FS holds the numbered *.up.sql files, applied in order.
//
//go:embed *.sql
var FS embed.FS

// Package migrations contains embedded SQL migrations for the outbox tables.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

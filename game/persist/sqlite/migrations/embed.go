// Package migrations contains embedded SQL migrations for the session blob store.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

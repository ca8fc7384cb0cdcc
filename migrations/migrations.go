// Package migrations embeds the SQL schema migrations so the binary can
// bring its own schema up without shipping files next to it.
package migrations

import "embed"

// FS holds the goose SQL migrations.
//
//go:embed *.sql
var FS embed.FS

// Package migrations embeds the SQL schema.
package migrations

import "embed"

// Files embeds every migration in lexical order of file name.
//
//go:embed *.sql
var Files embed.FS

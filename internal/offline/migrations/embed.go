// Package migrations embeds the terminal agent's SQLite schema for goose.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS

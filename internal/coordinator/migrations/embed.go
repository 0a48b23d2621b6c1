// Package migrations embeds the goose SQL migrations for the coordinator's
// sqlite store.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS

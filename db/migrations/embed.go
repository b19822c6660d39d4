// Package migrations embeds the goose SQL migrations so binaries can migrate
// without a checkout of db/migrations.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

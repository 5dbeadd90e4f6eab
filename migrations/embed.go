// Package migrations holds the goose SQL migrations for PostgreSQL. They are
// embedded so cmd/migrate works from any directory.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

// Package migrations registers the schema migrations run by cmd/migrate.
package migrations

import "github.com/uptrace/bun/migrate"

var Migrations = migrate.NewMigrations()

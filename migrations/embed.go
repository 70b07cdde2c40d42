// Package migrations embeds the registry's SQL migration files into the binary.
//
// Importing this package (usually for side effects) registers the files with
// the database package so DB.Migrate can apply them.
package migrations

import (
	"embed"

	"github.com/nerrad567/devmgr/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.RegisterMigrations(migrationsFS, ".")
}

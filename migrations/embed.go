// Package migrations embeds the bridge's SQLite schema into the binary.
//
// Importing this package registers the files with the database package.
package migrations

import (
	"embed"

	"github.com/nerrad567/gray-logic-serial/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}

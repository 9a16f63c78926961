// Package migrations embeds the SQL migration files into the binary.
//
// Files are grouped by dialect (sqlite/, postgres/); the database package
// picks the directory matching the connection it migrates.
package migrations

import (
	"embed"

	"github.com/nerrad567/gray-logic-dispatch/internal/infrastructure/database"
)

//go:embed sqlite/*.sql postgres/*.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}

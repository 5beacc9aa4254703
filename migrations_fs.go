package relay

import (
	"embed"
	"io/fs"
)

// migrationsFS holds the Postgres migrations with the SQLite variants under
// data/sql/migrations/sqlite.
//
//go:embed data/sql/migrations/*.sql data/sql/migrations/sqlite/*.sql
var migrationsFS embed.FS

// GetMigrationsFS returns the embedded relay schema migration tree.
func GetMigrationsFS() fs.FS {
	return migrationsFS
}

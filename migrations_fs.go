package guard

import (
	"embed"
	"io/fs"
)

//go:embed data/sql/migrations/*.sql data/sql/migrations/sqlite/*.sql
var schema embed.FS

// GetMigrationsFS returns the embedded schema: postgres migrations under
// data/sql/migrations and their sqlite twins under data/sql/migrations/sqlite.
func GetMigrationsFS() fs.FS {
	return schema
}

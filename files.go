package access

import (
	"embed"
)

//go:embed data/sql/migrations
var migrationsFS embed.FS

// GetMigrationsFS returns the dialect migrations for the access tables,
// rooted at data/sql/migrations.
func GetMigrationsFS() embed.FS {
	return migrationsFS
}

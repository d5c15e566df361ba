package store

import (
	"database/sql"
	"embed"

	"github.com/pkg/errors"
	migrate "github.com/rubenv/sql-migrate"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MigrationSource returns the embedded schema migrations.
func MigrationSource() migrate.MigrationSource {
	return &migrate.EmbedFileSystemMigrationSource{
		FileSystem: migrationsFS,
		Root:       "migrations",
	}
}

// Migrate applies pending migrations in direction and returns how many ran.
func Migrate(db *sql.DB, direction migrate.MigrationDirection) (int, error) {
	n, err := migrate.Exec(db, "postgres", MigrationSource(), direction)
	if err != nil {
		return n, errors.Wrap(err, "failed to apply migrations")
	}

	return n, nil
}

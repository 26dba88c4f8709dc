package storage

import (
	"embed"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMigrateURL(t *testing.T) {
	require.Equal(t, "pgx5://u:p@localhost:5432/spamflow?sslmode=disable", migrateURL("postgres://u:p@localhost:5432/spamflow?sslmode=disable"))
	require.Equal(t, "pgx5://h/db", migrateURL("postgresql://h/db"))
	require.Equal(t, "pgx5://h/db", migrateURL("pgx5://h/db"))
}

func TestMigrationsEmbedded(t *testing.T) {
	var _ embed.FS = migrationFS
	names, err := fs.Glob(migrationFS, "migrations/*.up.sql")
	require.NoError(t, err)
	require.Equal(t, []string{"migrations/000001_registry.up.sql", "migrations/000002_tracking.up.sql"}, names)
	downs, err := fs.Glob(migrationFS, "migrations/*.down.sql")
	require.NoError(t, err)
	require.Len(t, downs, len(names))
}

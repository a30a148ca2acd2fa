package testgen

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// SetupTestDB creates an in-memory database with the application schema
// and registers cleanup.
func SetupTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)

	db := bun.NewDB(sqldb, sqlitedialect.New())

	_, err = db.Exec(`
		CREATE TABLE contents (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			filepath TEXT NOT NULL,
			file_type TEXT NOT NULL,
			kind TEXT NOT NULL,
			title TEXT NOT NULL,
			author TEXT,
			description TEXT,
			genres TEXT,
			series_name TEXT,
			series_volume TEXT,
			isbn TEXT,
			publisher TEXT,
			language TEXT,
			published_at TEXT,
			cover_image_path TEXT,
			has_embedded_metadata BOOLEAN NOT NULL DEFAULT FALSE,
			image_count INTEGER,
			status TEXT NOT NULL DEFAULT 'pending',
			quarantine_reason TEXT,
			visibility TEXT NOT NULL DEFAULT 'public'
		)
	`)
	require.NoError(t, err)

	_, err = db.Exec(`CREATE UNIQUE INDEX ux_contents_filepath ON contents (filepath)`)
	require.NoError(t, err)

	_, err = db.Exec(`
		CREATE TABLE users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			username TEXT NOT NULL UNIQUE COLLATE NOCASE,
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'member',
			is_active BOOLEAN NOT NULL DEFAULT TRUE
		)
	`)
	require.NoError(t, err)

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

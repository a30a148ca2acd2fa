package migrations

import (
	"context"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

func init() {
	up := func(_ context.Context, db *bun.DB) error {
		_, err := db.Exec(`
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
		if err != nil {
			return errors.WithStack(err)
		}
		// One record per physical file; this index is the dedup backstop.
		_, err = db.Exec(`CREATE UNIQUE INDEX ux_contents_filepath ON contents (filepath)`)
		if err != nil {
			return errors.WithStack(err)
		}
		// Quarantine listing and badge count filter on status.
		_, err = db.Exec(`CREATE INDEX ix_contents_status ON contents (status)`)
		if err != nil {
			return errors.WithStack(err)
		}
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
		if err != nil {
			return errors.WithStack(err)
		}
		return nil
	}

	down := func(_ context.Context, db *bun.DB) error {
		for _, table := range []string{"contents", "users"} {
			_, err := db.Exec("DROP TABLE IF EXISTS " + table)
			if err != nil {
				return errors.WithStack(err)
			}
		}
		return nil
	}

	Migrations.MustRegister(up, down)
}

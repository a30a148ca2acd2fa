package migrations

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
	"golang.org/x/crypto/bcrypt"
)

// The initial admin password comes from ADMIN_PASSWORD when set, so
// fresh deployments don't ship with a guessable credential baked in.
const fallbackAdminPassword = "changeme"

func init() {
	up := func(ctx context.Context, db *bun.DB) error {
		password := os.Getenv("ADMIN_PASSWORD")
		if password == "" {
			password = fallbackAdminPassword
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(password), 12)
		if err != nil {
			return errors.WithStack(err)
		}

		_, err = db.ExecContext(ctx, `
			INSERT INTO users (username, password_hash, role, is_active)
			VALUES ('admin', ?, 'admin', TRUE)
		`, string(hash))
		if err != nil {
			return errors.WithStack(err)
		}
		return nil
	}

	down := func(ctx context.Context, db *bun.DB) error {
		_, err := db.ExecContext(ctx, `DELETE FROM users WHERE username = 'admin'`)
		if err != nil {
			return errors.WithStack(err)
		}
		return nil
	}

	Migrations.MustRegister(up, down)
}

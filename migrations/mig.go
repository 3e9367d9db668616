package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
)

//go:embed files/central/*.sql files/tenant/*.sql
var migrationFS embed.FS

// UpCentral migrates the central database: tenants, domains, the event
// outbox and the central admins' auth tables.
func UpCentral(ctx context.Context, db *sql.DB) error {
	return up(ctx, db, "files/central")
}

// UpTenant migrates one tenant database.
func UpTenant(ctx context.Context, db *sql.DB) error {
	return up(ctx, db, "files/tenant")
}

func up(ctx context.Context, db *sql.DB, dir string) error {
	sub, err := fs.Sub(migrationFS, dir)
	if err != nil {
		return fmt.Errorf("migration dir %s: %w", dir, err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, sub)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
)

//go:embed admin/*.sql tenant/*.sql
var embedded embed.FS

// RunAdmin applies pending migrations to the shared admin database: clients,
// admin accounts and the job queue.
func RunAdmin(ctx context.Context, db *sql.DB) error {
	return run(ctx, db, "admin")
}

// RunTenant applies pending migrations to one client's database:
// experiences and guest sessions.
func RunTenant(ctx context.Context, db *sql.DB) error {
	return run(ctx, db, "tenant")
}

// run uses a goose Provider rather than the package-level API so tenant
// databases can be migrated concurrently.
func run(ctx context.Context, db *sql.DB, dir string) error {
	fsys, err := fs.Sub(embedded, dir)
	if err != nil {
		return fmt.Errorf("opening %s migrations: %w", dir, err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("creating %s migration provider: %w", dir, err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("running %s migrations: %w", dir, err)
	}
	return nil
}

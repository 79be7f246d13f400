package store

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"strings"
)

//go:embed migrations
var migrationsFS embed.FS

// migrationTarget is the per-backend half of the migration runner.
type migrationTarget interface {
	ensureMigrationsTable(ctx context.Context) error
	migrationApplied(ctx context.Context, version string) (bool, error)
	// applyMigration runs sql and records version in one transaction.
	applyMigration(ctx context.Context, version, sql string) error
}

// runMigrations applies every migrations/<dialect>/*.up.sql file not yet
// recorded in schema_migrations, in file name order.
func runMigrations(ctx context.Context, dialect string, t migrationTarget) error {
	if err := t.ensureMigrationsTable(ctx); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	dir := path.Join("migrations", dialect)
	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".up.sql") {
			continue
		}
		version := entry.Name()

		applied, err := t.migrationApplied(ctx, version)
		if err != nil {
			return fmt.Errorf("checking migration %s: %w", version, err)
		}
		if applied {
			continue
		}

		sql, err := fs.ReadFile(migrationsFS, path.Join(dir, version))
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", version, err)
		}

		if err := t.applyMigration(ctx, version, string(sql)); err != nil {
			return fmt.Errorf("executing migration %s: %w", version, err)
		}
	}
	return nil
}

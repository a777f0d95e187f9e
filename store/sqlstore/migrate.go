package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationFS embed.FS

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

func (d Dialect) gooseDialect() string {
	if d == DialectPostgres {
		return "pgx"
	}
	return "sqlite3"
}

func (d Dialect) migrationDir() string {
	if d == DialectPostgres {
		return "migrations/postgres"
	}
	return "migrations/sqlite"
}

// Migrate brings the schema up to the latest embedded version.
func (s *Store) Migrate(ctx context.Context) error {
	return RunMigrations(ctx, s.db, s.dialect)
}

// RunMigrations applies the embedded migrations for dialect to db.
func RunMigrations(ctx context.Context, db *sql.DB, dialect Dialect) error {
	sub, err := fs.Sub(migrationFS, dialect.migrationDir())
	if err != nil {
		return err
	}
	goose.SetBaseFS(sub)
	if err := goose.SetDialect(dialect.gooseDialect()); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("migrate %s: %w", dialect, err)
	}
	return nil
}

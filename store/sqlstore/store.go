// Package sqlstore implements andyweb.Store on database/sql. SQLite
// (modernc.org/sqlite) is the default backend; Postgres is reached through
// the pgx stdlib driver. The schema is versioned with goose and embedded in
// the binary.
//
// Queries are written once with '?' placeholders and rebound for Postgres.
// Counter updates are single conditional UPDATE statements, so concurrent
// failed logins never lose an increment.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	andyweb "github.com/CallMeChewy/AndyWeb"
	"github.com/CallMeChewy/AndyWeb/internal/dbx"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect names the SQL backend.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// ParseDialect accepts the driver spellings used in configuration.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "postgres", "postgresql", "pgx":
		return DialectPostgres, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", s)
	}
}

func (d Dialect) driverName() string {
	if d == DialectPostgres {
		return "pgx"
	}
	return "sqlite"
}

type Store struct {
	db      *sql.DB
	dialect Dialect
}

var _ andyweb.Store = (*Store)(nil)

// New wraps an open handle. The caller keeps ownership of db.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// Open connects to dsn and returns a Store that owns the handle. SQLite
// connections are limited to one so writes serialize inside the process.
func Open(ctx context.Context, dialect Dialect, dsn string) (*Store, error) {
	if dialect == DialectSQLite {
		dsn = sqliteDSN(dsn)
	}

	db, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %v", andyweb.ErrStorageUnavailable, err)
	}

	switch dialect {
	case DialectSQLite:
		db.SetMaxOpenConns(1)
	default:
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping: %v", andyweb.ErrStorageUnavailable, err)
	}
	return New(db, dialect), nil
}

// sqliteDSN adds the pragmas and time format the store relies on unless the
// caller already set them.
func sqliteDSN(dsn string) string {
	if dsn == "" {
		dsn = "file:andyweb.db"
	}
	base, rawQuery, _ := strings.Cut(dsn, "?")
	q, err := url.ParseQuery(rawQuery)
	if err != nil {
		return dsn
	}
	if q.Get("_time_format") == "" {
		q.Set("_time_format", "sqlite")
	}
	if len(q["_pragma"]) == 0 {
		q.Add("_pragma", "foreign_keys(1)")
		q.Add("_pragma", "busy_timeout(5000)")
	}
	return base + "?" + q.Encode()
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the handle for migrations and diagnostics.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Dialect() Dialect {
	return s.dialect
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable(err)
	}
	return nil
}

// q adapts a '?' query to the dialect.
func (s *Store) q(query string) string {
	if s.dialect == DialectPostgres {
		return dbx.Rebind(query)
	}
	return query
}

func (s *Store) tx(ctx context.Context, fn func(ctx context.Context, tx dbx.Querier) error) error {
	return dbx.InTx(ctx, s.db, fn)
}

func utc(t time.Time) time.Time {
	return t.UTC()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt64(v int64) sql.NullInt64 {
	if v == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: v, Valid: true}
}

func timeOf(nt sql.NullTime) time.Time {
	if !nt.Valid {
		return time.Time{}
	}
	return nt.Time.UTC()
}

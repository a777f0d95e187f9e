package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	andyweb "github.com/CallMeChewy/AndyWeb"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const pgUniqueViolation = "23505"

var errUnexpectedID = errors.New("sqlstore: unexpected user_id type")

// unavailable tags a driver failure. Context errors pass through so callers
// can tell a cancelled request from a broken backend.
func unavailable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", andyweb.ErrStorageUnavailable, err)
}

// uniqueViolation reports whether err is a unique-constraint failure and, if
// so, which constraint or column it names.
func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == pgUniqueViolation {
			return pgErr.ConstraintName, true
		}
		return "", false
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		if code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY {
			return liteErr.Error(), true
		}
		return "", false
	}

	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key value") {
		return msg, true
	}
	return "", false
}

// userConflict maps a users insert failure to the andyweb conflict errors.
func userConflict(err error) error {
	where, ok := uniqueViolation(err)
	if !ok {
		return unavailable(err)
	}
	switch {
	// Usernames are unique ignoring case: users_username_lower_key on
	// Postgres, users_username_nocase on SQLite.
	case strings.Contains(where, "users_username"), strings.Contains(where, "users.username"):
		return andyweb.ErrUsernameExists
	default:
		return andyweb.ErrEmailExists
	}
}

// sessionConflict maps a user_sessions insert failure.
func sessionConflict(err error) error {
	if _, ok := uniqueViolation(err); ok {
		return andyweb.ErrTokenCollision
	}
	return unavailable(err)
}

package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	andyweb "github.com/CallMeChewy/AndyWeb"
	"github.com/CallMeChewy/AndyWeb/internal/dbx"
	"github.com/CallMeChewy/AndyWeb/session"
)

const sessionColumns = `id, user_id, session_token_hash, refresh_token_hash, expires_at,
	refresh_expires_at, ip_address, user_agent, is_active, created_at, last_access_at`

func scanSession(row rowScanner) (*session.Session, error) {
	var sess session.Session
	err := row.Scan(
		&sess.ID,
		&sess.UserID,
		&sess.TokenHash,
		&sess.RefreshHash,
		&sess.ExpiresAt,
		&sess.RefreshExpiresAt,
		&sess.IPAddress,
		&sess.UserAgent,
		&sess.Active,
		&sess.CreatedAt,
		&sess.LastAccessAt,
	)
	if err != nil {
		return nil, err
	}
	sess.ExpiresAt = sess.ExpiresAt.UTC()
	sess.RefreshExpiresAt = sess.RefreshExpiresAt.UTC()
	sess.CreatedAt = sess.CreatedAt.UTC()
	sess.LastAccessAt = sess.LastAccessAt.UTC()
	return &sess, nil
}

// CreateSession locks the owner row, revokes the oldest usable sessions
// beyond maxActive-1, then inserts. The owner lock serializes concurrent
// logins of one user so the cap holds.
func (s *Store) CreateSession(ctx context.Context, in session.New, maxActive int) (*session.Session, int64, error) {
	in = normalizeNew(in)
	var (
		created *session.Session
		evicted int64
	)

	err := s.tx(ctx, func(ctx context.Context, tx dbx.Querier) error {
		evicted = 0
		if err := s.updateActiveUser(ctx, tx, `UPDATE users SET modified_at = modified_at WHERE id = ? AND is_active = TRUE`, in.UserID); err != nil {
			return err
		}

		if maxActive > 0 {
			ids, err := s.usableSessionIDs(ctx, tx, in.UserID, in.CreatedAt)
			if err != nil {
				return err
			}
			for i := 0; len(ids)-i >= maxActive; i++ {
				if _, err := tx.ExecContext(ctx, s.q(`UPDATE user_sessions SET is_active = FALSE WHERE id = ?`), ids[i]); err != nil {
					return unavailable(err)
				}
				evicted++
			}
		}

		var err error
		created, err = s.insertSession(ctx, tx, in)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return created, evicted, nil
}

// usableSessionIDs returns the user's usable session ids, oldest first.
func (s *Store) usableSessionIDs(ctx context.Context, db dbx.Querier, userID int64, now time.Time) ([]int64, error) {
	rows, err := db.QueryContext(ctx, s.q(`
		SELECT id FROM user_sessions
		WHERE user_id = ? AND is_active = TRUE AND expires_at > ?
		ORDER BY created_at, id`),
		userID, now,
	)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, unavailable(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return ids, nil
}

func (s *Store) insertSession(ctx context.Context, db dbx.Querier, in session.New) (*session.Session, error) {
	var id int64
	err := db.QueryRowContext(ctx, s.q(`
		INSERT INTO user_sessions (user_id, session_token_hash, refresh_token_hash, expires_at,
			refresh_expires_at, ip_address, user_agent, is_active, created_at, last_access_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, TRUE, ?, ?)
		RETURNING id`),
		in.UserID, in.TokenHash, in.RefreshHash, in.ExpiresAt, in.RefreshExpiresAt,
		in.IPAddress, in.UserAgent, in.CreatedAt, in.CreatedAt,
	).Scan(&id)
	if err != nil {
		return nil, sessionConflict(err)
	}

	return &session.Session{
		ID:               id,
		UserID:           in.UserID,
		TokenHash:        in.TokenHash,
		RefreshHash:      in.RefreshHash,
		ExpiresAt:        in.ExpiresAt,
		RefreshExpiresAt: in.RefreshExpiresAt,
		IPAddress:        in.IPAddress,
		UserAgent:        in.UserAgent,
		Active:           true,
		CreatedAt:        in.CreatedAt,
		LastAccessAt:     in.CreatedAt,
	}, nil
}

func normalizeNew(in session.New) session.New {
	in.ExpiresAt = utc(in.ExpiresAt)
	in.RefreshExpiresAt = utc(in.RefreshExpiresAt)
	in.CreatedAt = utc(in.CreatedAt)
	return in
}

func (s *Store) FindSessionByToken(ctx context.Context, tokenHash string) (*session.Session, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+sessionColumns+` FROM user_sessions WHERE session_token_hash = ?`), tokenHash)
	return sessionFromRow(row)
}

func (s *Store) FindSessionByRefreshToken(ctx context.Context, refreshHash string) (*session.Session, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+sessionColumns+` FROM user_sessions WHERE refresh_token_hash = ?`), refreshHash)
	return sessionFromRow(row)
}

func sessionFromRow(row *sql.Row) (*session.Session, error) {
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, andyweb.ErrSessionNotFound
		}
		return nil, unavailable(err)
	}
	return sess, nil
}

func (s *Store) TouchSession(ctx context.Context, id int64, now time.Time) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE user_sessions SET last_access_at = ? WHERE id = ?`), utc(now), id)
	if err != nil {
		return unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable(err)
	}
	if n == 0 {
		return andyweb.ErrSessionNotFound
	}
	return nil
}

// RevokeSession deactivates the session and reports whether it was active.
func (s *Store) RevokeSession(ctx context.Context, tokenHash string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE user_sessions SET is_active = FALSE
		WHERE session_token_hash = ? AND is_active = TRUE`), tokenHash)
	if err != nil {
		return false, unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable(err)
	}
	if n == 1 {
		return true, nil
	}

	if _, err := s.FindSessionByToken(ctx, tokenHash); err != nil {
		return false, err
	}
	return false, nil
}

func (s *Store) RevokeUserSessions(ctx context.Context, userID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE user_sessions SET is_active = FALSE
		WHERE user_id = ? AND is_active = TRUE`), userID)
	if err != nil {
		return 0, unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

// RotateSession claims oldID with a conditional UPDATE; only one caller can
// flip it from active, so a refresh token is exchanged at most once.
func (s *Store) RotateSession(ctx context.Context, oldID int64, next session.New) (*session.Session, error) {
	next = normalizeNew(next)
	var created *session.Session

	err := s.tx(ctx, func(ctx context.Context, tx dbx.Querier) error {
		res, err := tx.ExecContext(ctx, s.q(`
			UPDATE user_sessions SET is_active = FALSE
			WHERE id = ? AND is_active = TRUE`), oldID)
		if err != nil {
			return unavailable(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return unavailable(err)
		}
		if n == 0 {
			return andyweb.ErrRefreshInvalid
		}

		created, err = s.insertSession(ctx, tx, next)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q(`
		DELETE FROM user_sessions
		WHERE expires_at < ? OR is_active = FALSE`), utc(now))
	if err != nil {
		return 0, unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	andyweb "github.com/CallMeChewy/AndyWeb"
	"github.com/CallMeChewy/AndyWeb/internal/dbx"
)

const userColumns = `id, email, username, password_hash, subscription_tier, is_active,
	email_verified, login_attempts, locked_until, last_login_at, created_at, modified_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*andyweb.User, error) {
	var (
		u         andyweb.User
		username  sql.NullString
		tier      string
		locked    sql.NullTime
		lastLogin sql.NullTime
	)
	err := row.Scan(
		&u.ID,
		&u.Email,
		&username,
		&u.PasswordHash,
		&tier,
		&u.Active,
		&u.EmailVerified,
		&u.LoginAttempts,
		&locked,
		&lastLogin,
		&u.CreatedAt,
		&u.ModifiedAt,
	)
	if err != nil {
		return nil, err
	}
	u.Username = username.String
	u.Tier = andyweb.Tier(tier)
	u.LockedUntil = timeOf(locked)
	u.LastLoginAt = timeOf(lastLogin)
	u.CreatedAt = u.CreatedAt.UTC()
	u.ModifiedAt = u.ModifiedAt.UTC()
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, in andyweb.NewUser) (*andyweb.User, error) {
	created := utc(in.CreatedAt)
	var id int64

	err := s.tx(ctx, func(ctx context.Context, tx dbx.Querier) error {
		err := tx.QueryRowContext(ctx, s.q(`
			INSERT INTO users (email, username, password_hash, subscription_tier, is_active,
				email_verified, login_attempts, created_at, modified_at)
			VALUES (?, ?, ?, ?, TRUE, ?, 0, ?, ?)
			RETURNING id`),
			in.Email, nullString(in.Username), in.PasswordHash, string(in.Tier),
			in.EmailVerified, created, created,
		).Scan(&id)
		if err != nil {
			return userConflict(err)
		}

		if _, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO user_subscriptions (user_id, subscription_tier, started_at)
			VALUES (?, ?, ?)`),
			id, string(in.Tier), created,
		); err != nil {
			return unavailable(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &andyweb.User{
		ID:            id,
		Email:         in.Email,
		Username:      in.Username,
		PasswordHash:  in.PasswordHash,
		Tier:          in.Tier,
		Active:        true,
		EmailVerified: in.EmailVerified,
		CreatedAt:     created,
		ModifiedAt:    created,
	}, nil
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*andyweb.User, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+userColumns+` FROM users WHERE email = ? AND is_active = TRUE`), email)
	return s.userFromRow(row)
}

func (s *Store) FindUserByID(ctx context.Context, id int64) (*andyweb.User, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+userColumns+` FROM users WHERE id = ? AND is_active = TRUE`), id)
	return s.userFromRow(row)
}

func (s *Store) userFromRow(row *sql.Row) (*andyweb.User, error) {
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, andyweb.ErrUserNotFound
		}
		return nil, unavailable(err)
	}
	return u, nil
}

// RecordFailedLogin counts one failure inside a transaction. The two UPDATEs
// encode limiters.Lockout.Fail: the first only matches an unlocked active
// row, so a locked account is left untouched, and an expired lock restarts
// the count at one; the second engages the lock at the threshold.
func (s *Store) RecordFailedLogin(ctx context.Context, id int64, now time.Time, policy andyweb.LockoutPolicy) (andyweb.LockoutState, error) {
	now = utc(now)
	var state andyweb.LockoutState

	err := s.tx(ctx, func(ctx context.Context, tx dbx.Querier) error {
		res, err := tx.ExecContext(ctx, s.q(`
			UPDATE users
			SET login_attempts = CASE
					WHEN locked_until IS NOT NULL AND locked_until <= ? THEN 1
					ELSE login_attempts + 1
				END,
				locked_until = NULL,
				modified_at = ?
			WHERE id = ? AND is_active = TRUE
				AND (locked_until IS NULL OR locked_until <= ?)`),
			now, now, id, now,
		)
		if err != nil {
			return unavailable(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return unavailable(err)
		}

		if n == 1 && policy.Threshold > 0 {
			if _, err := tx.ExecContext(ctx, s.q(`
				UPDATE users SET locked_until = ?
				WHERE id = ? AND login_attempts >= ?`),
				now.Add(policy.Duration), id, policy.Threshold,
			); err != nil {
				return unavailable(err)
			}
		}

		var (
			active bool
			locked sql.NullTime
		)
		err = tx.QueryRowContext(ctx, s.q(`
			SELECT is_active, login_attempts, locked_until FROM users WHERE id = ?`), id,
		).Scan(&active, &state.Attempts, &locked)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return andyweb.ErrUserNotFound
			}
			return unavailable(err)
		}
		if !active {
			return andyweb.ErrUserNotFound
		}
		state.LockedUntil = timeOf(locked)

		if n == 0 {
			return andyweb.ErrAccountLocked
		}
		return nil
	})
	if errors.Is(err, andyweb.ErrAccountLocked) {
		return state, err
	}
	if err != nil {
		return andyweb.LockoutState{}, err
	}
	return state, nil
}

// RecordSuccessfulLogin encodes limiters.Lockout.Succeed: a locked row is not
// matched, anything else is cleared.
func (s *Store) RecordSuccessfulLogin(ctx context.Context, id int64, now time.Time) error {
	now = utc(now)
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE users
		SET login_attempts = 0, locked_until = NULL, last_login_at = ?, modified_at = ?
		WHERE id = ? AND is_active = TRUE
			AND (locked_until IS NULL OR locked_until <= ?)`),
		now, now, id, now,
	)
	if err != nil {
		return unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable(err)
	}
	if n == 1 {
		return nil
	}

	if _, err := s.FindUserByID(ctx, id); err != nil {
		return err
	}
	return andyweb.ErrAccountLocked
}

func (s *Store) UpdatePasswordHash(ctx context.Context, id int64, hash string, now time.Time) error {
	return s.updateActiveUser(ctx, s.db, `UPDATE users SET password_hash = ?, modified_at = ? WHERE id = ? AND is_active = TRUE`,
		hash, utc(now), id)
}

func (s *Store) MarkEmailVerified(ctx context.Context, id int64, now time.Time) error {
	return s.updateActiveUser(ctx, s.db, `UPDATE users SET email_verified = TRUE, modified_at = ? WHERE id = ? AND is_active = TRUE`,
		utc(now), id)
}

func (s *Store) DeactivateUser(ctx context.Context, id int64, now time.Time) error {
	return s.updateActiveUser(ctx, s.db, `UPDATE users SET is_active = FALSE, modified_at = ? WHERE id = ? AND is_active = TRUE`,
		utc(now), id)
}

func (s *Store) UpdateTier(ctx context.Context, id int64, tier andyweb.Tier, now time.Time) error {
	now = utc(now)
	return s.tx(ctx, func(ctx context.Context, tx dbx.Querier) error {
		if err := s.updateActiveUser(ctx, tx, `UPDATE users SET subscription_tier = ?, modified_at = ? WHERE id = ? AND is_active = TRUE`,
			string(tier), now, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO user_subscriptions (user_id, subscription_tier, started_at)
			VALUES (?, ?, ?)`),
			id, string(tier), now,
		); err != nil {
			return unavailable(err)
		}
		return nil
	})
}

// updateActiveUser runs a single-row UPDATE and maps zero rows to
// ErrUserNotFound.
func (s *Store) updateActiveUser(ctx context.Context, db dbx.Querier, query string, args ...any) error {
	res, err := db.ExecContext(ctx, s.q(query), args...)
	if err != nil {
		return unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable(err)
	}
	if n == 0 {
		return andyweb.ErrUserNotFound
	}
	return nil
}

func (s *Store) UserStats(ctx context.Context, dayStart, now time.Time) (andyweb.UserStats, error) {
	stats := andyweb.UserStats{UsersByTier: map[andyweb.Tier]int64{}}

	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT subscription_tier, COUNT(*) FROM users
		WHERE is_active = TRUE
		GROUP BY subscription_tier`))
	if err != nil {
		return andyweb.UserStats{}, unavailable(err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			tier  string
			count int64
		)
		if err := rows.Scan(&tier, &count); err != nil {
			return andyweb.UserStats{}, unavailable(err)
		}
		stats.UsersByTier[andyweb.Tier(tier)] = count
		stats.TotalUsers += count
	}
	if err := rows.Err(); err != nil {
		return andyweb.UserStats{}, unavailable(err)
	}

	if err := s.db.QueryRowContext(ctx, s.q(`
		SELECT COUNT(*) FROM users WHERE is_active = TRUE AND created_at >= ?`), utc(dayStart),
	).Scan(&stats.NewUsersToday); err != nil {
		return andyweb.UserStats{}, unavailable(err)
	}

	if err := s.db.QueryRowContext(ctx, s.q(`
		SELECT COUNT(*) FROM user_sessions WHERE is_active = TRUE AND expires_at > ?`), utc(now),
	).Scan(&stats.ActiveSessions); err != nil {
		return andyweb.UserStats{}, unavailable(err)
	}

	return stats, nil
}

package andyweb

import (
	"context"
	"time"

	"github.com/CallMeChewy/AndyWeb/internal/limiters"
	"github.com/CallMeChewy/AndyWeb/permission"
	"github.com/CallMeChewy/AndyWeb/session"
)

// User is a persisted account. Username is empty when the user did not pick
// one. Zero LockedUntil and LastLoginAt mean unset.
type User struct {
	ID            int64
	Email         string
	Username      string
	PasswordHash  string
	Tier          Tier
	Active        bool
	EmailVerified bool
	LoginAttempts int
	LockedUntil   time.Time
	LastLoginAt   time.Time
	CreatedAt     time.Time
	ModifiedAt    time.Time
}

// Lockout returns the user's lockout state.
func (u *User) Lockout() LockoutState {
	return LockoutState{Attempts: u.LoginAttempts, LockedUntil: u.LockedUntil}
}

// NewUser is the input to UserStore.CreateUser. Email is already normalized.
type NewUser struct {
	Email         string
	Username      string
	PasswordHash  string
	Tier          Tier
	EmailVerified bool
	CreatedAt     time.Time
}

// LockoutState is the failed-login portion of a user row. Stores apply the
// transitions of limiters.Lockout to it.
type LockoutState = limiters.LockoutState

// LockoutPolicy is handed to UserStore.RecordFailedLogin. A Threshold of
// zero counts failures without ever locking.
type LockoutPolicy struct {
	Threshold int
	Duration  time.Duration
}

// UserStats is the aggregate returned by Engine.UserStats.
type UserStats struct {
	TotalUsers     int64
	UsersByTier    map[Tier]int64
	NewUsersToday  int64
	ActiveSessions int64
}

// ActivityRecord is one row of the activity trail. UserID zero means no user.
type ActivityRecord struct {
	UserID    int64
	Type      string
	Data      map[string]string
	IPAddress string
	UserAgent string
	CreatedAt time.Time
}

// RegisterRequest is the input to Engine.Register.
type RegisterRequest struct {
	Email    string
	Password string
	Username string
	// Tier defaults to the configured default tier when empty.
	Tier Tier
}

// RegisterResult is returned by Engine.Register.
type RegisterResult struct {
	User                 *User
	VerificationRequired bool
}

// LoginResult carries the plaintext tokens of a new session. The tokens are
// not recoverable after this value is discarded.
type LoginResult struct {
	User             *User
	SessionToken     string
	RefreshToken     string
	ExpiresAt        time.Time
	RefreshExpiresAt time.Time
	// EvictedSessions counts older sessions revoked to honor the tier cap.
	EvictedSessions int64
}

// AuthResult is returned by Engine.ValidateSession.
type AuthResult struct {
	User    *User
	Session *session.Session
	Policy  TierPolicy

	mask  permission.Mask64
	tiers *tierCatalog
}

// Allows reports whether the authenticated user's tier includes feature.
func (r *AuthResult) Allows(feature Feature) bool {
	if r == nil || r.tiers == nil {
		return false
	}
	bit, ok := r.tiers.registry.Bit(string(feature))
	if !ok {
		return false
	}
	return r.mask.Has(bit)
}

// Features lists the features of the authenticated user's tier.
func (r *AuthResult) Features() []string {
	if r == nil || r.tiers == nil {
		return nil
	}
	return r.tiers.registry.Names(r.mask)
}

// UserStore persists accounts. Lookups return only active users and fail
// with ErrUserNotFound otherwise. Implementations wrap backend failures in
// ErrStorageUnavailable.
type UserStore interface {
	// CreateUser fails with ErrEmailExists or ErrUsernameExists on conflict.
	CreateUser(ctx context.Context, in NewUser) (*User, error)
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	FindUserByID(ctx context.Context, id int64) (*User, error)
	// RecordFailedLogin atomically applies one failure. It fails with
	// ErrAccountLocked, leaving the counter untouched, when the account is
	// locked at now.
	RecordFailedLogin(ctx context.Context, id int64, now time.Time, policy LockoutPolicy) (LockoutState, error)
	// RecordSuccessfulLogin clears the counter and lock and stamps the last
	// login. It fails with ErrAccountLocked when a lock engaged concurrently.
	RecordSuccessfulLogin(ctx context.Context, id int64, now time.Time) error
	UpdatePasswordHash(ctx context.Context, id int64, hash string, now time.Time) error
	MarkEmailVerified(ctx context.Context, id int64, now time.Time) error
	// UpdateTier changes the tier and appends a subscription history row.
	UpdateTier(ctx context.Context, id int64, tier Tier, now time.Time) error
	DeactivateUser(ctx context.Context, id int64, now time.Time) error
	UserStats(ctx context.Context, dayStart, now time.Time) (UserStats, error)
}

// SessionStore persists sessions keyed by token digests.
type SessionStore interface {
	// CreateSession inserts s after revoking the oldest usable sessions of
	// the user so that at most maxActive remain usable. maxActive <= 0
	// disables the cap. It fails with ErrTokenCollision when a digest is
	// already present and ErrUserNotFound when the user row is missing.
	CreateSession(ctx context.Context, s session.New, maxActive int) (created *session.Session, evicted int64, err error)
	FindSessionByToken(ctx context.Context, tokenHash string) (*session.Session, error)
	FindSessionByRefreshToken(ctx context.Context, refreshHash string) (*session.Session, error)
	TouchSession(ctx context.Context, id int64, now time.Time) error
	// RevokeSession marks the session inactive and reports whether it was
	// active before.
	RevokeSession(ctx context.Context, tokenHash string) (bool, error)
	RevokeUserSessions(ctx context.Context, userID int64) (int64, error)
	// RotateSession deactivates oldID and inserts next in one atomic step.
	// It fails with ErrRefreshInvalid when oldID is no longer active.
	RotateSession(ctx context.Context, oldID int64, next session.New) (*session.Session, error)
	// DeleteExpiredSessions removes rows with expiry < now or inactive.
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

// ActivityStore appends to the activity trail.
type ActivityStore interface {
	AppendActivity(ctx context.Context, rec ActivityRecord) error
}

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Store is the full persistence surface the Engine needs.
type Store interface {
	UserStore
	SessionStore
	ActivityStore
	Pinger
}

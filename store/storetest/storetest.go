// Package storetest is a conformance suite for andyweb.Store
// implementations. Each backend's tests call Run with a factory that returns
// an empty, migrated store.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	andyweb "github.com/CallMeChewy/AndyWeb"
	"github.com/CallMeChewy/AndyWeb/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh store for one subtest.
type Factory func(t *testing.T) andyweb.Store

var base = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

// Run executes every conformance case against stores produced by open.
func Run(t *testing.T, open Factory) {
	t.Run("CreateAndFindUser", func(t *testing.T) { testCreateAndFindUser(t, open(t)) })
	t.Run("UserConflicts", func(t *testing.T) { testUserConflicts(t, open(t)) })
	t.Run("FailedLoginLocks", func(t *testing.T) { testFailedLoginLocks(t, open(t)) })
	t.Run("ExpiredLockRestartsCount", func(t *testing.T) { testExpiredLockRestartsCount(t, open(t)) })
	t.Run("ConcurrentFailuresCounted", func(t *testing.T) { testConcurrentFailuresCounted(t, open(t)) })
	t.Run("UserMutations", func(t *testing.T) { testUserMutations(t, open(t)) })
	t.Run("SessionLifecycle", func(t *testing.T) { testSessionLifecycle(t, open(t)) })
	t.Run("SessionCapEvictsOldest", func(t *testing.T) { testSessionCapEvictsOldest(t, open(t)) })
	t.Run("SessionCollision", func(t *testing.T) { testSessionCollision(t, open(t)) })
	t.Run("RotateOnce", func(t *testing.T) { testRotateOnce(t, open(t)) })
	t.Run("DeleteExpired", func(t *testing.T) { testDeleteExpired(t, open(t)) })
	t.Run("Stats", func(t *testing.T) { testStats(t, open(t)) })
	t.Run("Activity", func(t *testing.T) { testActivity(t, open(t)) })
}

func newUser(t *testing.T, s andyweb.Store, email, username string) *andyweb.User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), andyweb.NewUser{
		Email:        email,
		Username:     username,
		PasswordHash: "$2a$12$placeholderplaceholderplaceholderplaceholderplace",
		Tier:         andyweb.TierFree,
		CreatedAt:    base,
	})
	require.NoError(t, err)
	return u
}

func newSession(userID int64, tag string, created time.Time) session.New {
	return session.New{
		UserID:           userID,
		TokenHash:        "tok-" + tag,
		RefreshHash:      "ref-" + tag,
		ExpiresAt:        created.Add(24 * time.Hour),
		RefreshExpiresAt: created.Add(30 * 24 * time.Hour),
		IPAddress:        "203.0.113.7",
		UserAgent:        "storetest",
		CreatedAt:        created,
	}
}

func testCreateAndFindUser(t *testing.T, s andyweb.Store) {
	ctx := context.Background()
	u := newUser(t, s, "reader@example.com", "reader")

	assert.NotZero(t, u.ID)
	assert.True(t, u.Active)
	assert.False(t, u.EmailVerified)
	assert.Equal(t, andyweb.TierFree, u.Tier)

	byEmail, err := s.FindUserByEmail(ctx, "reader@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byEmail.ID)
	assert.Equal(t, "reader", byEmail.Username)
	assert.True(t, byEmail.CreatedAt.Equal(base))
	assert.True(t, byEmail.LastLoginAt.IsZero())
	assert.True(t, byEmail.LockedUntil.IsZero())

	byID, err := s.FindUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "reader@example.com", byID.Email)

	_, err = s.FindUserByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, andyweb.ErrUserNotFound)
	_, err = s.FindUserByID(ctx, u.ID+1000)
	assert.ErrorIs(t, err, andyweb.ErrUserNotFound)
}

func testUserConflicts(t *testing.T, s andyweb.Store) {
	ctx := context.Background()
	newUser(t, s, "first@example.com", "first")

	_, err := s.CreateUser(ctx, andyweb.NewUser{Email: "first@example.com", Username: "other", PasswordHash: "x", Tier: andyweb.TierFree, CreatedAt: base})
	assert.ErrorIs(t, err, andyweb.ErrEmailExists)

	_, err = s.CreateUser(ctx, andyweb.NewUser{Email: "second@example.com", Username: "first", PasswordHash: "x", Tier: andyweb.TierFree, CreatedAt: base})
	assert.ErrorIs(t, err, andyweb.ErrUsernameExists)

	// Usernames compare without regard to case.
	_, err = s.CreateUser(ctx, andyweb.NewUser{Email: "third@example.com", Username: "First", PasswordHash: "x", Tier: andyweb.TierFree, CreatedAt: base})
	assert.ErrorIs(t, err, andyweb.ErrUsernameExists)

	// Accounts without a username never conflict with each other.
	newUser(t, s, "anon1@example.com", "")
	newUser(t, s, "anon2@example.com", "")
}

func testFailedLoginLocks(t *testing.T, s andyweb.Store) {
	ctx := context.Background()
	u := newUser(t, s, "lock@example.com", "")
	policy := andyweb.LockoutPolicy{Threshold: 3, Duration: 30 * time.Minute}

	for i := 1; i <= 2; i++ {
		state, err := s.RecordFailedLogin(ctx, u.ID, base, policy)
		require.NoError(t, err)
		assert.Equal(t, i, state.Attempts)
		assert.False(t, state.Locked(base))
	}

	state, err := s.RecordFailedLogin(ctx, u.ID, base, policy)
	require.NoError(t, err)
	assert.Equal(t, 3, state.Attempts)
	assert.True(t, state.LockedUntil.Equal(base.Add(30*time.Minute)))

	state, err = s.RecordFailedLogin(ctx, u.ID, base.Add(time.Minute), policy)
	assert.ErrorIs(t, err, andyweb.ErrAccountLocked)
	assert.Equal(t, 3, state.Attempts)

	err = s.RecordSuccessfulLogin(ctx, u.ID, base.Add(time.Minute))
	assert.ErrorIs(t, err, andyweb.ErrAccountLocked)

	after := base.Add(31 * time.Minute)
	require.NoError(t, s.RecordSuccessfulLogin(ctx, u.ID, after))
	got, err := s.FindUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Zero(t, got.LoginAttempts)
	assert.True(t, got.LockedUntil.IsZero())
	assert.True(t, got.LastLoginAt.Equal(after))

	_, err = s.RecordFailedLogin(ctx, u.ID+1000, base, policy)
	assert.ErrorIs(t, err, andyweb.ErrUserNotFound)
}

func testExpiredLockRestartsCount(t *testing.T, s andyweb.Store) {
	ctx := context.Background()
	u := newUser(t, s, "expire@example.com", "")
	policy := andyweb.LockoutPolicy{Threshold: 2, Duration: time.Minute}

	for i := 0; i < 2; i++ {
		_, err := s.RecordFailedLogin(ctx, u.ID, base, policy)
		require.NoError(t, err)
	}

	// The lock ends exactly at LockedUntil.
	state, err := s.RecordFailedLogin(ctx, u.ID, base.Add(time.Minute), policy)
	require.NoError(t, err)
	assert.Equal(t, 1, state.Attempts)
	assert.True(t, state.LockedUntil.IsZero())
}

func testConcurrentFailuresCounted(t *testing.T, s andyweb.Store) {
	ctx := context.Background()
	u := newUser(t, s, "race@example.com", "")
	policy := andyweb.LockoutPolicy{Threshold: 100, Duration: time.Minute}

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.RecordFailedLogin(ctx, u.ID, base, policy); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := s.FindUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, workers, got.LoginAttempts)
}

func testUserMutations(t *testing.T, s andyweb.Store) {
	ctx := context.Background()
	u := newUser(t, s, "mutate@example.com", "mutate")
	later := base.Add(time.Hour)

	require.NoError(t, s.UpdatePasswordHash(ctx, u.ID, "new-hash", later))
	require.NoError(t, s.MarkEmailVerified(ctx, u.ID, later))
	require.NoError(t, s.UpdateTier(ctx, u.ID, andyweb.TierScholar, later))

	got, err := s.FindUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "new-hash", got.PasswordHash)
	assert.True(t, got.EmailVerified)
	assert.Equal(t, andyweb.TierScholar, got.Tier)
	assert.True(t, got.ModifiedAt.Equal(later))

	require.NoError(t, s.DeactivateUser(ctx, u.ID, later))
	_, err = s.FindUserByID(ctx, u.ID)
	assert.ErrorIs(t, err, andyweb.ErrUserNotFound)
	_, err = s.FindUserByEmail(ctx, "mutate@example.com")
	assert.ErrorIs(t, err, andyweb.ErrUserNotFound)

	assert.ErrorIs(t, s.UpdateTier(ctx, u.ID, andyweb.TierFree, later), andyweb.ErrUserNotFound)
	assert.ErrorIs(t, s.DeactivateUser(ctx, u.ID, later), andyweb.ErrUserNotFound)
}

func testSessionLifecycle(t *testing.T, s andyweb.Store) {
	ctx := context.Background()
	u := newUser(t, s, "session@example.com", "")

	created, evicted, err := s.CreateSession(ctx, newSession(u.ID, "a", base), 3)
	require.NoError(t, err)
	assert.Zero(t, evicted)
	assert.NotZero(t, created.ID)
	assert.True(t, created.Active)

	found, err := s.FindSessionByToken(ctx, "tok-a")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
	assert.Equal(t, u.ID, found.UserID)
	assert.Equal(t, "203.0.113.7", found.IPAddress)
	assert.True(t, found.ExpiresAt.Equal(base.Add(24*time.Hour)))
	assert.True(t, found.Usable(base))

	byRefresh, err := s.FindSessionByRefreshToken(ctx, "ref-a")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byRefresh.ID)

	_, err = s.FindSessionByToken(ctx, "ref-a")
	assert.ErrorIs(t, err, andyweb.ErrSessionNotFound)

	touched := base.Add(5 * time.Minute)
	require.NoError(t, s.TouchSession(ctx, created.ID, touched))
	found, err = s.FindSessionByToken(ctx, "tok-a")
	require.NoError(t, err)
	assert.True(t, found.LastAccessAt.Equal(touched))

	was, err := s.RevokeSession(ctx, "tok-a")
	require.NoError(t, err)
	assert.True(t, was)
	was, err = s.RevokeSession(ctx, "tok-a")
	require.NoError(t, err)
	assert.False(t, was)
	_, err = s.RevokeSession(ctx, "tok-missing")
	assert.ErrorIs(t, err, andyweb.ErrSessionNotFound)

	for _, tag := range []string{"b", "c"} {
		_, _, err := s.CreateSession(ctx, newSession(u.ID, tag, base), 0)
		require.NoError(t, err)
	}
	n, err := s.RevokeUserSessions(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, _, err = s.CreateSession(ctx, newSession(u.ID+1000, "orphan", base), 0)
	assert.ErrorIs(t, err, andyweb.ErrUserNotFound)
}

func testSessionCapEvictsOldest(t *testing.T, s andyweb.Store) {
	ctx := context.Background()
	u := newUser(t, s, "cap@example.com", "")

	for i := 0; i < 3; i++ {
		_, evicted, err := s.CreateSession(ctx, newSession(u.ID, fmt.Sprint(i), base.Add(time.Duration(i)*time.Minute)), 3)
		require.NoError(t, err)
		assert.Zero(t, evicted)
	}

	_, evicted, err := s.CreateSession(ctx, newSession(u.ID, "3", base.Add(3*time.Minute)), 3)
	require.NoError(t, err)
	assert.Equal(t, int64(1), evicted)

	oldest, err := s.FindSessionByToken(ctx, "tok-0")
	require.NoError(t, err)
	assert.False(t, oldest.Active)

	now := base.Add(4 * time.Minute)
	for _, tag := range []string{"1", "2", "3"} {
		sess, err := s.FindSessionByToken(ctx, "tok-"+tag)
		require.NoError(t, err)
		assert.True(t, sess.Usable(now), "session %s", tag)
	}

	// Shrinking the cap evicts down to cap-1 before the insert.
	_, evicted, err = s.CreateSession(ctx, newSession(u.ID, "4", now), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), evicted)
}

func testSessionCollision(t *testing.T, s andyweb.Store) {
	ctx := context.Background()
	u := newUser(t, s, "collide@example.com", "")

	_, _, err := s.CreateSession(ctx, newSession(u.ID, "x", base), 0)
	require.NoError(t, err)

	_, _, err = s.CreateSession(ctx, newSession(u.ID, "x", base), 0)
	assert.ErrorIs(t, err, andyweb.ErrTokenCollision)
}

func testRotateOnce(t *testing.T, s andyweb.Store) {
	ctx := context.Background()
	u := newUser(t, s, "rotate@example.com", "")

	old, _, err := s.CreateSession(ctx, newSession(u.ID, "old", base), 0)
	require.NoError(t, err)

	later := base.Add(time.Hour)
	next, err := s.RotateSession(ctx, old.ID, newSession(u.ID, "new", later))
	require.NoError(t, err)
	assert.NotEqual(t, old.ID, next.ID)
	assert.True(t, next.Active)

	prev, err := s.FindSessionByToken(ctx, "tok-old")
	require.NoError(t, err)
	assert.False(t, prev.Active)

	_, err = s.RotateSession(ctx, old.ID, newSession(u.ID, "again", later))
	assert.ErrorIs(t, err, andyweb.ErrRefreshInvalid)
	_, err = s.FindSessionByToken(ctx, "tok-again")
	assert.ErrorIs(t, err, andyweb.ErrSessionNotFound)
}

func testDeleteExpired(t *testing.T, s andyweb.Store) {
	ctx := context.Background()
	u := newUser(t, s, "cleanup@example.com", "")

	expired := newSession(u.ID, "expired", base)
	expired.ExpiresAt = base.Add(time.Minute)
	_, _, err := s.CreateSession(ctx, expired, 0)
	require.NoError(t, err)

	_, _, err = s.CreateSession(ctx, newSession(u.ID, "revoked", base), 0)
	require.NoError(t, err)
	_, err = s.RevokeSession(ctx, "tok-revoked")
	require.NoError(t, err)

	_, _, err = s.CreateSession(ctx, newSession(u.ID, "live", base), 0)
	require.NoError(t, err)

	n, err := s.DeleteExpiredSessions(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = s.FindSessionByToken(ctx, "tok-live")
	assert.NoError(t, err)
	for _, tag := range []string{"expired", "revoked"} {
		_, err = s.FindSessionByToken(ctx, "tok-"+tag)
		assert.ErrorIs(t, err, andyweb.ErrSessionNotFound)
	}

	n, err = s.DeleteExpiredSessions(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testStats(t *testing.T, s andyweb.Store) {
	ctx := context.Background()
	a := newUser(t, s, "a@example.com", "")
	newUser(t, s, "b@example.com", "")
	c := newUser(t, s, "c@example.com", "")
	require.NoError(t, s.UpdateTier(ctx, a.ID, andyweb.TierResearcher, base))
	require.NoError(t, s.DeactivateUser(ctx, c.ID, base))

	_, _, err := s.CreateSession(ctx, newSession(a.ID, "s1", base), 0)
	require.NoError(t, err)
	short := newSession(a.ID, "s2", base)
	short.ExpiresAt = base.Add(time.Minute)
	_, _, err = s.CreateSession(ctx, short, 0)
	require.NoError(t, err)

	now := base.Add(time.Hour)
	stats, err := s.UserStats(ctx, time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalUsers)
	assert.Equal(t, int64(2), stats.NewUsersToday)
	assert.Equal(t, int64(1), stats.UsersByTier[andyweb.TierResearcher])
	assert.Equal(t, int64(1), stats.UsersByTier[andyweb.TierFree])
	assert.Equal(t, int64(1), stats.ActiveSessions)

	stats, err = s.UserStats(ctx, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), now)
	require.NoError(t, err)
	assert.Zero(t, stats.NewUsersToday)
}

func testActivity(t *testing.T, s andyweb.Store) {
	ctx := context.Background()
	u := newUser(t, s, "activity@example.com", "")

	require.NoError(t, s.AppendActivity(ctx, andyweb.ActivityRecord{
		UserID:    u.ID,
		Type:      "login",
		Data:      map[string]string{"success": "true"},
		IPAddress: "203.0.113.7",
		CreatedAt: base,
	}))
	require.NoError(t, s.AppendActivity(ctx, andyweb.ActivityRecord{
		Type:      "login_failed",
		CreatedAt: base,
	}))

	require.NoError(t, s.Ping(ctx))
}

// Package memstore is an in-process andyweb.Store. It backs tests and
// single-process development runs; every method holds one mutex, so each
// operation is atomic with respect to the others.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	andyweb "github.com/CallMeChewy/AndyWeb"
	"github.com/CallMeChewy/AndyWeb/internal/limiters"
	"github.com/CallMeChewy/AndyWeb/session"
)

// Subscription is one row of the tier history.
type Subscription struct {
	UserID    int64
	Tier      andyweb.Tier
	StartedAt time.Time
}

type Store struct {
	mu sync.Mutex

	nextUserID    int64
	nextSessionID int64

	users      map[int64]*andyweb.User
	byEmail    map[string]int64
	byUsername map[string]int64 // lower-cased

	sessions  map[int64]*session.Session
	byToken   map[string]int64
	byRefresh map[string]int64

	activities    []andyweb.ActivityRecord
	subscriptions []Subscription

	unavailable   error
	activityError error
}

var _ andyweb.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		users:      make(map[int64]*andyweb.User),
		byEmail:    make(map[string]int64),
		byUsername: make(map[string]int64),
		sessions:   make(map[int64]*session.Session),
		byToken:    make(map[string]int64),
		byRefresh:  make(map[string]int64),
	}
}

// SetUnavailable makes every subsequent call fail with err wrapped in
// andyweb.ErrStorageUnavailable. A nil err restores normal operation.
func (s *Store) SetUnavailable(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = err
}

// SetActivityError makes AppendActivity alone fail with err.
func (s *Store) SetActivityError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activityError = err
}

func (s *Store) check() error {
	if s.unavailable != nil {
		return fmt.Errorf("%w: %v", andyweb.ErrStorageUnavailable, s.unavailable)
	}
	return nil
}

func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.check()
}

/*
====================================
USERS
====================================
*/

func (s *Store) CreateUser(_ context.Context, in andyweb.NewUser) (*andyweb.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}

	if _, ok := s.byEmail[in.Email]; ok {
		return nil, andyweb.ErrEmailExists
	}
	if in.Username != "" {
		if _, ok := s.byUsername[strings.ToLower(in.Username)]; ok {
			return nil, andyweb.ErrUsernameExists
		}
	}

	s.nextUserID++
	u := &andyweb.User{
		ID:            s.nextUserID,
		Email:         in.Email,
		Username:      in.Username,
		PasswordHash:  in.PasswordHash,
		Tier:          in.Tier,
		Active:        true,
		EmailVerified: in.EmailVerified,
		CreatedAt:     in.CreatedAt,
		ModifiedAt:    in.CreatedAt,
	}
	s.users[u.ID] = u
	s.byEmail[u.Email] = u.ID
	if u.Username != "" {
		s.byUsername[strings.ToLower(u.Username)] = u.ID
	}
	s.subscriptions = append(s.subscriptions, Subscription{UserID: u.ID, Tier: u.Tier, StartedAt: in.CreatedAt})

	out := *u
	return &out, nil
}

func (s *Store) activeUser(id int64) (*andyweb.User, error) {
	u, ok := s.users[id]
	if !ok || !u.Active {
		return nil, andyweb.ErrUserNotFound
	}
	return u, nil
}

func (s *Store) FindUserByEmail(_ context.Context, email string) (*andyweb.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}

	id, ok := s.byEmail[email]
	if !ok {
		return nil, andyweb.ErrUserNotFound
	}
	u, err := s.activeUser(id)
	if err != nil {
		return nil, err
	}
	out := *u
	return &out, nil
}

func (s *Store) FindUserByID(_ context.Context, id int64) (*andyweb.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}

	u, err := s.activeUser(id)
	if err != nil {
		return nil, err
	}
	out := *u
	return &out, nil
}

func (s *Store) RecordFailedLogin(_ context.Context, id int64, now time.Time, policy andyweb.LockoutPolicy) (andyweb.LockoutState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return andyweb.LockoutState{}, err
	}

	u, err := s.activeUser(id)
	if err != nil {
		return andyweb.LockoutState{}, err
	}

	guard := limiters.Lockout{Threshold: policy.Threshold, Duration: policy.Duration}
	next, applied := guard.Fail(u.Lockout(), now)
	if !applied {
		return next, andyweb.ErrAccountLocked
	}
	u.LoginAttempts = next.Attempts
	u.LockedUntil = next.LockedUntil
	u.ModifiedAt = now
	return next, nil
}

func (s *Store) RecordSuccessfulLogin(_ context.Context, id int64, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}

	u, err := s.activeUser(id)
	if err != nil {
		return err
	}

	var guard limiters.Lockout
	if _, applied := guard.Succeed(u.Lockout(), now); !applied {
		return andyweb.ErrAccountLocked
	}
	u.LoginAttempts = 0
	u.LockedUntil = time.Time{}
	u.LastLoginAt = now
	u.ModifiedAt = now
	return nil
}

func (s *Store) UpdatePasswordHash(_ context.Context, id int64, hash string, now time.Time) error {
	return s.mutateUser(id, func(u *andyweb.User) {
		u.PasswordHash = hash
		u.ModifiedAt = now
	})
}

func (s *Store) MarkEmailVerified(_ context.Context, id int64, now time.Time) error {
	return s.mutateUser(id, func(u *andyweb.User) {
		u.EmailVerified = true
		u.ModifiedAt = now
	})
}

func (s *Store) UpdateTier(_ context.Context, id int64, tier andyweb.Tier, now time.Time) error {
	return s.mutateUser(id, func(u *andyweb.User) {
		u.Tier = tier
		u.ModifiedAt = now
		s.subscriptions = append(s.subscriptions, Subscription{UserID: id, Tier: tier, StartedAt: now})
	})
}

func (s *Store) DeactivateUser(_ context.Context, id int64, now time.Time) error {
	return s.mutateUser(id, func(u *andyweb.User) {
		u.Active = false
		u.ModifiedAt = now
	})
}

func (s *Store) mutateUser(id int64, fn func(*andyweb.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}

	u, err := s.activeUser(id)
	if err != nil {
		return err
	}
	fn(u)
	return nil
}

func (s *Store) UserStats(_ context.Context, dayStart, now time.Time) (andyweb.UserStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return andyweb.UserStats{}, err
	}

	stats := andyweb.UserStats{UsersByTier: map[andyweb.Tier]int64{}}
	for _, u := range s.users {
		if !u.Active {
			continue
		}
		stats.TotalUsers++
		stats.UsersByTier[u.Tier]++
		if !u.CreatedAt.Before(dayStart) {
			stats.NewUsersToday++
		}
	}
	for _, sess := range s.sessions {
		if sess.Usable(now) {
			stats.ActiveSessions++
		}
	}
	return stats, nil
}

/*
====================================
SESSIONS
====================================
*/

func (s *Store) CreateSession(_ context.Context, in session.New, maxActive int) (*session.Session, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, 0, err
	}

	if _, err := s.activeUser(in.UserID); err != nil {
		return nil, 0, err
	}
	if s.collides(in) {
		return nil, 0, andyweb.ErrTokenCollision
	}

	var evicted int64
	if maxActive > 0 {
		live := s.usableSessions(in.UserID, in.CreatedAt)
		for i := 0; len(live)-i >= maxActive; i++ {
			live[i].Active = false
			evicted++
		}
	}

	return s.insert(in), evicted, nil
}

// usableSessions returns the user's usable sessions, oldest first.
func (s *Store) usableSessions(userID int64, now time.Time) []*session.Session {
	var out []*session.Session
	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.Usable(now) {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) collides(in session.New) bool {
	for _, h := range []string{in.TokenHash, in.RefreshHash} {
		if _, ok := s.byToken[h]; ok {
			return true
		}
		if _, ok := s.byRefresh[h]; ok {
			return true
		}
	}
	return in.TokenHash == in.RefreshHash
}

func (s *Store) insert(in session.New) *session.Session {
	s.nextSessionID++
	sess := &session.Session{
		ID:               s.nextSessionID,
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
	}
	s.sessions[sess.ID] = sess
	s.byToken[sess.TokenHash] = sess.ID
	s.byRefresh[sess.RefreshHash] = sess.ID

	out := *sess
	return &out
}

func (s *Store) findSession(index map[string]int64, hash string) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}

	id, ok := index[hash]
	if !ok {
		return nil, andyweb.ErrSessionNotFound
	}
	out := *s.sessions[id]
	return &out, nil
}

func (s *Store) FindSessionByToken(_ context.Context, tokenHash string) (*session.Session, error) {
	return s.findSession(s.byToken, tokenHash)
}

func (s *Store) FindSessionByRefreshToken(_ context.Context, refreshHash string) (*session.Session, error) {
	return s.findSession(s.byRefresh, refreshHash)
}

func (s *Store) TouchSession(_ context.Context, id int64, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}

	sess, ok := s.sessions[id]
	if !ok {
		return andyweb.ErrSessionNotFound
	}
	sess.LastAccessAt = now
	return nil
}

func (s *Store) RevokeSession(_ context.Context, tokenHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return false, err
	}

	id, ok := s.byToken[tokenHash]
	if !ok {
		return false, andyweb.ErrSessionNotFound
	}
	sess := s.sessions[id]
	was := sess.Active
	sess.Active = false
	return was, nil
}

func (s *Store) RevokeUserSessions(_ context.Context, userID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return 0, err
	}

	var n int64
	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.Active {
			sess.Active = false
			n++
		}
	}
	return n, nil
}

func (s *Store) RotateSession(_ context.Context, oldID int64, next session.New) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}

	old, ok := s.sessions[oldID]
	if !ok || !old.Active {
		return nil, andyweb.ErrRefreshInvalid
	}
	if s.collides(next) {
		return nil, andyweb.ErrTokenCollision
	}
	old.Active = false
	return s.insert(next), nil
}

func (s *Store) DeleteExpiredSessions(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return 0, err
	}

	var n int64
	for id, sess := range s.sessions {
		if sess.ExpiresAt.Before(now) || !sess.Active {
			delete(s.byToken, sess.TokenHash)
			delete(s.byRefresh, sess.RefreshHash)
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

// SessionCount returns the number of stored rows, revoked ones included.
func (s *Store) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

/*
====================================
ACTIVITY
====================================
*/

func (s *Store) AppendActivity(_ context.Context, rec andyweb.ActivityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	if s.activityError != nil {
		return fmt.Errorf("%w: %v", andyweb.ErrStorageUnavailable, s.activityError)
	}

	data := make(map[string]string, len(rec.Data))
	for k, v := range rec.Data {
		data[k] = v
	}
	rec.Data = data
	s.activities = append(s.activities, rec)
	return nil
}

// Activities returns a copy of the activity trail in insertion order.
func (s *Store) Activities() []andyweb.ActivityRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]andyweb.ActivityRecord(nil), s.activities...)
}

// Subscriptions returns a copy of the tier history.
func (s *Store) Subscriptions() []Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Subscription(nil), s.subscriptions...)
}

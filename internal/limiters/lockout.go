package limiters

import "time"

// Lockout is the failed-login state machine shared by every store
// implementation. It is pure: callers load the current state, apply a
// transition, and persist the result atomically.
type Lockout struct {
	// Threshold is the number of consecutive failures that locks the
	// account. Zero or less disables locking; failures are still counted.
	Threshold int
	Duration  time.Duration
}

// LockoutState is the persisted lockout portion of a user row.
type LockoutState struct {
	Attempts    int
	LockedUntil time.Time
}

// Locked reports whether the lock is still in force at now. A lock expires
// at exactly LockedUntil.
func (s LockoutState) Locked(now time.Time) bool {
	return !s.LockedUntil.IsZero() && now.Before(s.LockedUntil)
}

// Fail applies a failed attempt. When the account is locked the state is
// returned unchanged with applied=false. An expired lock starts a fresh
// window before counting.
func (l Lockout) Fail(s LockoutState, now time.Time) (next LockoutState, applied bool) {
	if s.Locked(now) {
		return s, false
	}
	if !s.LockedUntil.IsZero() {
		s = LockoutState{}
	}
	s.Attempts++
	if l.Threshold > 0 && s.Attempts >= l.Threshold {
		s.LockedUntil = now.Add(l.Duration)
	}
	return s, true
}

// Succeed clears the state unless the account is locked at now.
func (l Lockout) Succeed(s LockoutState, now time.Time) (next LockoutState, applied bool) {
	if s.Locked(now) {
		return s, false
	}
	return LockoutState{}, true
}

// JustLocked reports whether the transition from prev to next engaged a lock.
func JustLocked(prev, next LockoutState, now time.Time) bool {
	return !prev.Locked(now) && next.Locked(now)
}

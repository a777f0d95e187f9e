package andyweb

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/CallMeChewy/AndyWeb/internal/limiters"
	"github.com/CallMeChewy/AndyWeb/session"
)

// Login authenticates email and password and opens a session.
//
// Unknown emails and wrong passwords both fail with ErrInvalidCredentials. A
// locked account fails with ErrAccountLocked before the password is checked,
// so the correct password does not bypass a lock. The attempt that trips the
// lock still reports ErrInvalidCredentials; later attempts see the lock.
func (e *Engine) Login(ctx context.Context, email, plaintext string) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	email = normalizeEmail(email)
	user, err := e.store.FindUserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			return nil, e.storageFailure(ctx, "find user by email", err)
		}
		e.equalizeTiming(ctx, plaintext)
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, EventLoginFailed, false, 0, 0, ErrInvalidCredentials, func() map[string]string {
			return map[string]string{"email": email, "reason": "unknown_email"}
		})
		return nil, ErrInvalidCredentials
	}

	now := e.now()
	if e.config.Lockout.Enabled && user.Lockout().Locked(now) {
		return nil, e.refuseLocked(ctx, user)
	}

	ok, err := e.hasher.Verify(ctx, plaintext, user.PasswordHash)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		// An unreadable stored hash can never match; count it as a failure.
		e.logger.Warn(ctx, "stored password hash rejected", "user_id", user.ID, "error", err)
		ok = false
	}
	if !ok {
		return nil, e.failLogin(ctx, user, now)
	}

	if e.config.EmailVerification.RequireForLogin && !user.EmailVerified {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, EventLoginFailed, false, user.ID, 0, ErrAccountUnverified, func() map[string]string {
			return map[string]string{"email": email, "reason": "unverified"}
		})
		return nil, ErrAccountUnverified
	}

	if err := e.store.RecordSuccessfulLogin(ctx, user.ID, now); err != nil {
		switch {
		case errors.Is(err, ErrAccountLocked):
			return nil, e.refuseLocked(ctx, user)
		case errors.Is(err, ErrUserNotFound):
			return nil, ErrInvalidCredentials
		default:
			return nil, e.storageFailure(ctx, "record successful login", err)
		}
	}
	user.LoginAttempts = 0
	user.LockedUntil = time.Time{}
	user.LastLoginAt = now

	e.upgradeHash(ctx, user, plaintext, now)

	result, err := e.openSession(ctx, user, now)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, EventUserLogin, true, user.ID, 0, nil, func() map[string]string {
		return map[string]string{
			"email": user.Email,
			"tier":  string(user.Tier),
		}
	})

	return result, nil
}

// equalizeTiming spends one verification on the dummy hash so an unknown
// email costs as much as a wrong password.
func (e *Engine) equalizeTiming(ctx context.Context, plaintext string) {
	if e.dummyHash == "" {
		return
	}
	_, _ = e.hasher.Verify(ctx, plaintext, e.dummyHash)
}

func (e *Engine) refuseLocked(ctx context.Context, user *User) error {
	e.metricInc(MetricLoginLocked)
	e.emitAudit(ctx, EventLoginLocked, false, user.ID, 0, ErrAccountLocked, func() map[string]string {
		return map[string]string{"email": user.Email}
	})
	return ErrAccountLocked
}

func (e *Engine) failLogin(ctx context.Context, user *User, now time.Time) error {
	var policy LockoutPolicy
	if e.config.Lockout.Enabled {
		policy = LockoutPolicy{
			Threshold: e.config.Lockout.MaxAttempts,
			Duration:  e.config.Lockout.Duration,
		}
	}

	prev := user.Lockout()
	state, err := e.store.RecordFailedLogin(ctx, user.ID, now, policy)
	if err != nil {
		switch {
		case errors.Is(err, ErrAccountLocked):
			return e.refuseLocked(ctx, user)
		case errors.Is(err, ErrUserNotFound):
			e.metricInc(MetricLoginFailure)
			return ErrInvalidCredentials
		default:
			return e.storageFailure(ctx, "record failed login", err)
		}
	}

	if limiters.JustLocked(prev, state, now) {
		e.metricInc(MetricAccountLocked)
		e.logger.Warn(ctx, "account locked after failed logins",
			"user_id", user.ID,
			"attempts", state.Attempts,
			"locked_until", state.LockedUntil,
		)
		e.emitAudit(ctx, EventAccountLocked, true, user.ID, 0, nil, func() map[string]string {
			return map[string]string{
				"attempts":     strconv.Itoa(state.Attempts),
				"locked_until": state.LockedUntil.Format(time.RFC3339),
			}
		})
	}

	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, EventLoginFailed, false, user.ID, 0, ErrInvalidCredentials, func() map[string]string {
		return map[string]string{
			"email":    user.Email,
			"reason":   "wrong_password",
			"attempts": strconv.Itoa(state.Attempts),
		}
	})
	return ErrInvalidCredentials
}

// upgradeHash replaces a stale or legacy hash after a successful login.
// Failures are logged; the login proceeds with the old hash.
func (e *Engine) upgradeHash(ctx context.Context, user *User, plaintext string, now time.Time) {
	if !e.config.Password.UpgradeOnLogin {
		return
	}
	stale, err := e.hasher.NeedsUpgrade(user.PasswordHash)
	if err != nil || !stale {
		return
	}

	hash, err := e.hasher.Hash(ctx, plaintext)
	if err != nil {
		e.logger.Warn(ctx, "password rehash failed", "user_id", user.ID, "error", err)
		return
	}
	if err := e.store.UpdatePasswordHash(ctx, user.ID, hash, now); err != nil {
		e.logger.Warn(ctx, "password rehash not stored", "user_id", user.ID, "error", err)
		return
	}
	user.PasswordHash = hash

	e.metricInc(MetricPasswordRehashed)
	e.emitAudit(ctx, EventPasswordRehashed, true, user.ID, 0, nil, nil)
}

// openSession mints a token pair and stores it under the tier's session cap.
// A digest collision is retried with a fresh pair.
func (e *Engine) openSession(ctx context.Context, user *User, now time.Time) (*LoginResult, error) {
	policy := e.policyFor(user.Tier)
	ip := clientIPFromContext(ctx)
	userAgent := userAgentFromContext(ctx)

	for attempt := 0; attempt < e.config.Session.CreateAttempts; attempt++ {
		pair, err := session.NewPair(now, e.config.Session.TTL, e.config.Session.RefreshTTL)
		if err != nil {
			return nil, err
		}

		created, evicted, err := e.store.CreateSession(ctx, session.FromPair(user.ID, pair, ip, userAgent, now), policy.MaxSessions)
		if err != nil {
			switch {
			case errors.Is(err, ErrTokenCollision):
				e.logger.Warn(ctx, "session token collision, regenerating", "user_id", user.ID, "attempt", attempt+1)
				continue
			case errors.Is(err, ErrUserNotFound):
				return nil, ErrInvalidCredentials
			default:
				return nil, e.storageFailure(ctx, "create session", err)
			}
		}

		e.metricInc(MetricSessionCreated)
		if evicted > 0 {
			e.metricAdd(MetricSessionEvicted, evicted)
			e.emitAudit(ctx, EventSessionEvicted, true, user.ID, created.ID, nil, func() map[string]string {
				return map[string]string{
					"evicted":      strconv.FormatInt(evicted, 10),
					"max_sessions": strconv.Itoa(policy.MaxSessions),
				}
			})
		}

		return &LoginResult{
			User:             user,
			SessionToken:     pair.SessionToken,
			RefreshToken:     pair.RefreshToken,
			ExpiresAt:        pair.ExpiresAt,
			RefreshExpiresAt: pair.RefreshExpiresAt,
			EvictedSessions:  evicted,
		}, nil
	}

	return nil, ErrTokenCollision
}

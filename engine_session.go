package andyweb

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/CallMeChewy/AndyWeb/session"
)

// ValidateSession resolves a bearer session token. It succeeds iff the
// session exists, is active, has not expired, and its owner is active; every
// other case is ErrSessionInvalid. The last-access stamp is best effort.
func (e *Engine) ValidateSession(ctx context.Context, token string) (*AuthResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		if e.metrics.LatencyEnabled() {
			e.metrics.Observe(MetricValidateLatency, time.Since(start))
		}
	}()

	if token == "" {
		e.metricInc(MetricSessionInvalid)
		return nil, ErrSessionInvalid
	}

	now := e.now()
	s, err := e.store.FindSessionByToken(ctx, session.HashToken(token))
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			e.metricInc(MetricSessionInvalid)
			return nil, ErrSessionInvalid
		}
		return nil, e.storageFailure(ctx, "find session", err)
	}
	if !s.Usable(now) {
		e.metricInc(MetricSessionInvalid)
		return nil, ErrSessionInvalid
	}

	user, err := e.store.FindUserByID(ctx, s.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.metricInc(MetricSessionInvalid)
			return nil, ErrSessionInvalid
		}
		return nil, e.storageFailure(ctx, "find session owner", err)
	}

	if err := e.store.TouchSession(ctx, s.ID, now); err != nil {
		e.logger.Warn(ctx, "session last-access update failed", "session_id", s.ID, "error", err)
	} else {
		s.LastAccessAt = now
	}

	e.metricInc(MetricSessionValidated)
	return &AuthResult{
		User:    user,
		Session: s,
		Policy:  e.policyFor(user.Tier),
		mask:    e.tiers.mask(user.Tier),
		tiers:   e.tiers,
	}, nil
}

// Logout revokes the session behind token. Unknown and already revoked
// tokens are not an error, so calling Logout twice is safe.
func (e *Engine) Logout(ctx context.Context, token string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if token == "" {
		return nil
	}

	hash := session.HashToken(token)
	s, err := e.store.FindSessionByToken(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		return e.storageFailure(ctx, "find session", err)
	}

	wasActive, err := e.store.RevokeSession(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		return e.storageFailure(ctx, "revoke session", err)
	}
	if !wasActive {
		return nil
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, EventUserLogout, true, s.UserID, s.ID, nil, nil)
	return nil
}

// LogoutAll revokes every session of userID and returns how many were active.
func (e *Engine) LogoutAll(ctx context.Context, userID int64) (int64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}

	n, err := e.store.RevokeUserSessions(ctx, userID)
	if err != nil {
		return 0, e.storageFailure(ctx, "revoke user sessions", err)
	}

	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, EventLogoutAll, true, userID, 0, nil, func() map[string]string {
		return map[string]string{"revoked": strconv.FormatInt(n, 10)}
	})
	return n, nil
}

// Refresh exchanges a refresh token for a new token pair. The old session is
// revoked in the same step, so each refresh token works once. The new
// session keeps the refresh expiry of the session it replaces.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if refreshToken == "" {
		e.metricInc(MetricRefreshFailure)
		return nil, ErrRefreshInvalid
	}

	now := e.now()
	old, err := e.store.FindSessionByRefreshToken(ctx, session.HashToken(refreshToken))
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, e.refreshRejected(ctx, 0, 0, "unknown_token")
		}
		return nil, e.storageFailure(ctx, "find session by refresh token", err)
	}
	if !old.Refreshable(now) {
		return nil, e.refreshRejected(ctx, old.UserID, old.ID, "expired_or_revoked")
	}

	user, err := e.store.FindUserByID(ctx, old.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, e.refreshRejected(ctx, old.UserID, old.ID, "user_inactive")
		}
		return nil, e.storageFailure(ctx, "find session owner", err)
	}

	ip := clientIPFromContext(ctx)
	userAgent := userAgentFromContext(ctx)

	for attempt := 0; attempt < e.config.Session.CreateAttempts; attempt++ {
		pair, err := session.NewPair(now, e.config.Session.TTL, e.config.Session.RefreshTTL)
		if err != nil {
			return nil, err
		}
		pair.RefreshExpiresAt = old.RefreshExpiresAt
		if pair.ExpiresAt.After(pair.RefreshExpiresAt) {
			pair.ExpiresAt = pair.RefreshExpiresAt
		}

		next, err := e.store.RotateSession(ctx, old.ID, session.FromPair(user.ID, pair, ip, userAgent, now))
		if err != nil {
			switch {
			case errors.Is(err, ErrTokenCollision):
				continue
			case errors.Is(err, ErrRefreshInvalid), errors.Is(err, ErrSessionNotFound):
				return nil, e.refreshRejected(ctx, old.UserID, old.ID, "already_used")
			default:
				return nil, e.storageFailure(ctx, "rotate session", err)
			}
		}

		e.metricInc(MetricRefreshSuccess)
		e.emitAudit(ctx, EventSessionRefreshed, true, user.ID, next.ID, nil, func() map[string]string {
			return map[string]string{"previous_session_id": strconv.FormatInt(old.ID, 10)}
		})

		return &LoginResult{
			User:             user,
			SessionToken:     pair.SessionToken,
			RefreshToken:     pair.RefreshToken,
			ExpiresAt:        pair.ExpiresAt,
			RefreshExpiresAt: pair.RefreshExpiresAt,
		}, nil
	}

	return nil, ErrTokenCollision
}

func (e *Engine) refreshRejected(ctx context.Context, userID, sessionID int64, reason string) error {
	e.metricInc(MetricRefreshFailure)
	e.emitAudit(ctx, EventSessionRefreshed, false, userID, sessionID, ErrRefreshInvalid, func() map[string]string {
		return map[string]string{"reason": reason}
	})
	return ErrRefreshInvalid
}

// CleanupSessions deletes sessions that expired or were revoked and returns
// the number removed. It is safe to run alongside ValidateSession.
func (e *Engine) CleanupSessions(ctx context.Context) (int64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}

	n, err := e.store.DeleteExpiredSessions(ctx, e.now())
	if err != nil {
		return 0, e.storageFailure(ctx, "delete expired sessions", err)
	}

	e.metricAdd(MetricSessionsCleaned, n)
	if n > 0 {
		e.logger.Info(ctx, "expired sessions cleaned", "count", n)
		e.emitAudit(ctx, EventSessionsCleaned, true, 0, 0, nil, func() map[string]string {
			return map[string]string{"count": strconv.FormatInt(n, 10)}
		})
	}
	return n, nil
}

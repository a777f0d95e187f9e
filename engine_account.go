package andyweb

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
)

// Register validates req, hashes the password and creates the account.
//
// The email is trimmed and lower-cased before the uniqueness check. Duplicate
// emails fail with ErrEmailExists and duplicate usernames with
// ErrUsernameExists. When email verification is enabled a token is sent
// through the VerificationSender; a delivery failure does not fail the
// registration.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	email := normalizeEmail(req.Email)
	username := strings.TrimSpace(req.Username)

	tier, err := e.registrationTier(req.Tier)
	if err == nil {
		err = validateEmail(email)
	}
	if err == nil && username != "" {
		err = validateUsername(username)
	}
	if err == nil {
		err = e.config.Password.validatePassword(req.Password)
	}
	if err != nil {
		e.metricInc(MetricRegisterInvalid)
		e.emitAudit(ctx, EventRegistrationFailed, false, 0, 0, err, func() map[string]string {
			return map[string]string{"email": email, "reason": err.Error()}
		})
		return nil, err
	}

	hash, err := e.hasher.Hash(ctx, req.Password)
	if err != nil {
		return nil, err
	}

	user, err := e.store.CreateUser(ctx, NewUser{
		Email:         email,
		Username:      username,
		PasswordHash:  hash,
		Tier:          tier,
		EmailVerified: false,
		CreatedAt:     e.now(),
	})
	if err != nil {
		if errors.Is(err, ErrAccountExists) {
			e.metricInc(MetricRegisterDuplicate)
			e.emitAudit(ctx, EventRegistrationFailed, false, 0, 0, err, func() map[string]string {
				return map[string]string{"email": email, "reason": err.Error()}
			})
			return nil, err
		}
		return nil, e.storageFailure(ctx, "create user", err)
	}

	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, EventUserRegistered, true, user.ID, 0, nil, func() map[string]string {
		return map[string]string{
			"email":    user.Email,
			"username": user.Username,
			"tier":     string(user.Tier),
		}
	})

	if e.config.EmailVerification.Enabled {
		if err := e.sendVerification(ctx, user); err != nil {
			e.logger.Warn(ctx, "verification email not sent", "user_id", user.ID, "error", err)
		}
	}

	return &RegisterResult{
		User:                 user,
		VerificationRequired: e.config.EmailVerification.Enabled,
	}, nil
}

func (e *Engine) registrationTier(requested Tier) (Tier, error) {
	if requested == "" {
		return e.config.DefaultTier, nil
	}
	tier, ok := ParseTier(string(requested))
	if !ok {
		return "", invalid("subscription_tier", "unknown subscription tier")
	}
	if tier == TierGuest {
		return "", invalid("subscription_tier", "guest tier cannot be registered")
	}
	if _, ok := e.tiers.policy(tier); !ok {
		return "", invalid("subscription_tier", "unknown subscription tier")
	}
	return tier, nil
}

// Profile returns the active user with id userID.
func (e *Engine) Profile(ctx context.Context, userID int64) (*User, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	user, err := e.store.FindUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, e.storageFailure(ctx, "find user", err)
	}
	return user, nil
}

// ChangeTier moves userID to tier and records the change in the
// subscription history. Existing sessions are kept even if they exceed the
// new tier's cap; the cap applies from the next login.
func (e *Engine) ChangeTier(ctx context.Context, userID int64, tier Tier) (*User, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	if tier == "" {
		return nil, invalid("subscription_tier", "subscription tier is required")
	}
	target, err := e.registrationTier(tier)
	if err != nil {
		return nil, err
	}

	user, err := e.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	previous := user.Tier
	if previous == target {
		return user, nil
	}

	now := e.now()
	if err := e.store.UpdateTier(ctx, userID, target, now); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, e.storageFailure(ctx, "update tier", err)
	}
	user.Tier = target
	user.ModifiedAt = now

	e.metricInc(MetricTierChanged)
	e.emitAudit(ctx, EventTierChanged, true, userID, 0, nil, func() map[string]string {
		return map[string]string{"from": string(previous), "to": string(target)}
	})
	return user, nil
}

// DeactivateAccount marks userID inactive and revokes all of its sessions.
// The row is kept; deactivated users cannot log in or be found.
func (e *Engine) DeactivateAccount(ctx context.Context, userID int64) error {
	if err := e.ready(); err != nil {
		return err
	}

	if err := e.store.DeactivateUser(ctx, userID, e.now()); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrUserNotFound
		}
		return e.storageFailure(ctx, "deactivate user", err)
	}
	revoked, err := e.store.RevokeUserSessions(ctx, userID)
	if err != nil {
		return e.storageFailure(ctx, "revoke user sessions", err)
	}

	e.metricInc(MetricAccountDeactivated)
	e.emitAudit(ctx, EventAccountDeactivated, true, userID, 0, nil, func() map[string]string {
		return map[string]string{"revoked_sessions": strconv.FormatInt(revoked, 10)}
	})
	return nil
}

// UserStats reports active-user totals, a per-tier breakdown, users created
// since UTC midnight, and usable sessions.
func (e *Engine) UserStats(ctx context.Context) (UserStats, error) {
	if err := e.ready(); err != nil {
		return UserStats{}, err
	}

	now := e.now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	stats, err := e.store.UserStats(ctx, dayStart, now)
	if err != nil {
		return UserStats{}, e.storageFailure(ctx, "user stats", err)
	}
	if stats.UsersByTier == nil {
		stats.UsersByTier = map[Tier]int64{}
	}
	return stats, nil
}

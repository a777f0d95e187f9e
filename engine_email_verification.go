package andyweb

import (
	"context"
	"errors"
	"time"

	"github.com/CallMeChewy/AndyWeb/internal/logging"
	"github.com/CallMeChewy/AndyWeb/jwt"
)

// VerificationSender delivers an email-verification token to user.
type VerificationSender interface {
	SendVerification(ctx context.Context, user *User, token string, expiresAt time.Time) error
}

// LogVerificationSender writes verification tokens to a logger. It is the
// default until a mail transport is configured.
type LogVerificationSender struct {
	Logger logging.Logger
}

func (s LogVerificationSender) SendVerification(ctx context.Context, user *User, token string, expiresAt time.Time) error {
	if s.Logger == nil {
		return nil
	}
	s.Logger.Info(ctx, "email verification token issued",
		"user_id", user.ID,
		"email", user.Email,
		"token", token,
		"expires_at", expiresAt,
	)
	return nil
}

func (e *Engine) sendVerification(ctx context.Context, user *User) error {
	if e.verifier == nil || e.sender == nil {
		return ErrEmailVerificationDisabled
	}
	token, expiresAt, err := e.verifier.Issue(user.ID, user.Email, jwt.PurposeEmailVerification)
	if err != nil {
		return err
	}
	if err := e.sender.SendVerification(ctx, user, token, expiresAt); err != nil {
		return err
	}
	e.metricInc(MetricEmailVerificationSent)
	return nil
}

// ResendVerification issues a fresh verification token for userID. It is a
// no-op for users that are already verified.
func (e *Engine) ResendVerification(ctx context.Context, userID int64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !e.config.EmailVerification.Enabled {
		return ErrEmailVerificationDisabled
	}

	user, err := e.Profile(ctx, userID)
	if err != nil {
		return err
	}
	if user.EmailVerified {
		return nil
	}
	return e.sendVerification(ctx, user)
}

// VerifyEmail checks a verification token and marks its user verified.
// Verifying an already verified user succeeds.
func (e *Engine) VerifyEmail(ctx context.Context, token string) (*User, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if !e.config.EmailVerification.Enabled || e.verifier == nil {
		return nil, ErrEmailVerificationDisabled
	}

	claims, err := e.verifier.Parse(token, jwt.PurposeEmailVerification)
	if err != nil {
		reason := "bad_token"
		if errors.Is(err, jwt.ErrWrongPurpose) {
			reason = "wrong_purpose"
		}
		return nil, e.verificationRejected(ctx, 0, reason)
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, e.verificationRejected(ctx, 0, "bad_subject")
	}

	user, err := e.store.FindUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, e.verificationRejected(ctx, userID, "user_not_found")
		}
		return nil, e.storageFailure(ctx, "find user", err)
	}
	// A token minted for an earlier address must not verify the current one.
	if user.Email != normalizeEmail(claims.Email) {
		return nil, e.verificationRejected(ctx, userID, "email_mismatch")
	}
	if user.EmailVerified {
		return user, nil
	}

	now := e.now()
	if err := e.store.MarkEmailVerified(ctx, userID, now); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, e.verificationRejected(ctx, userID, "user_not_found")
		}
		return nil, e.storageFailure(ctx, "mark email verified", err)
	}
	user.EmailVerified = true
	user.ModifiedAt = now

	e.metricInc(MetricEmailVerificationSuccess)
	e.emitAudit(ctx, EventEmailVerified, true, userID, 0, nil, func() map[string]string {
		return map[string]string{"email": user.Email}
	})
	return user, nil
}

func (e *Engine) verificationRejected(ctx context.Context, userID int64, reason string) error {
	e.metricInc(MetricEmailVerificationFailure)
	e.emitAudit(ctx, EventEmailVerified, false, userID, 0, ErrEmailVerificationInvalid, func() map[string]string {
		return map[string]string{"reason": reason}
	})
	return ErrEmailVerificationInvalid
}

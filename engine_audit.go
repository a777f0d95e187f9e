package andyweb

import (
	"context"
	"errors"
)

// Activity event types as stored in user_activity.activity_type.
const (
	EventUserRegistered     = "user_registered"
	EventRegistrationFailed = "registration_failed"
	EventUserLogin          = "user_login"
	EventLoginFailed        = "login_failed"
	EventLoginLocked        = "login_locked"
	EventAccountLocked      = "account_locked"
	EventUserLogout         = "user_logout"
	EventLogoutAll          = "logout_all"
	EventSessionRefreshed   = "session_refreshed"
	EventSessionEvicted     = "session_evicted"
	EventSessionsCleaned    = "sessions_cleaned"
	EventEmailVerified      = "email_verified"
	EventTierChanged        = "tier_changed"
	EventAccountDeactivated = "account_deactivated"
	EventPasswordRehashed   = "password_rehashed"
	EventRateLimited        = "rate_limit_exceeded"
)

// AuditErrorCode is the stable error label stored with failed events.
type AuditErrorCode string

const (
	auditErrValidation         AuditErrorCode = "validation"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrAccountLocked      AuditErrorCode = "account_locked"
	auditErrAccountUnverified  AuditErrorCode = "account_unverified"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrUserNotFound       AuditErrorCode = "user_not_found"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID int64,
	sessionID int64,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.activity == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now(),
		EventType: eventType,
		UserID:    userID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.activity.push(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrValidation):
		return auditErrValidation
	case errors.Is(err, ErrAccountExists):
		return auditErrDuplicate
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrAccountUnverified):
		return auditErrAccountUnverified
	case errors.Is(err, ErrSessionInvalid),
		errors.Is(err, ErrRefreshInvalid),
		errors.Is(err, ErrEmailVerificationInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrStorageUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}

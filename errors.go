package andyweb

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrValidation matches every ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrAccountExists is the parent of the two registration conflicts.
	ErrAccountExists = errors.New("account already exists")
	// ErrEmailExists is returned when the lower-cased email is already registered.
	ErrEmailExists = fmt.Errorf("%w: email address already registered", ErrAccountExists)
	// ErrUsernameExists is returned when the username is already taken.
	ErrUsernameExists = fmt.Errorf("%w: username already taken", ErrAccountExists)
	// ErrInvalidCredentials covers unknown emails and wrong passwords alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is returned while a lockout is in force.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountUnverified is returned at login when verification is required.
	ErrAccountUnverified = errors.New("account unverified")
	// ErrUserNotFound is returned by stores for missing or inactive users.
	ErrUserNotFound = errors.New("user not found")
	// ErrSessionNotFound is returned by stores for unknown token hashes.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionInvalid is returned for unknown, revoked or expired session tokens.
	ErrSessionInvalid = errors.New("session invalid")
	// ErrRefreshInvalid is returned for unknown, used or expired refresh tokens.
	ErrRefreshInvalid = errors.New("refresh token invalid")
	// ErrTokenCollision is returned by stores when a token hash is already present.
	ErrTokenCollision = errors.New("token collision")
	// ErrStorageUnavailable wraps every storage backend failure.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrEmailVerificationDisabled is returned when verification is not configured.
	ErrEmailVerificationDisabled = errors.New("email verification disabled")
	// ErrEmailVerificationInvalid is returned for bad or expired verification tokens.
	ErrEmailVerificationInvalid = errors.New("email verification token invalid")
	// ErrRateLimited matches every RateLimitError.
	ErrRateLimited = errors.New("rate limited")
	// ErrFeatureDenied is returned when the caller's tier lacks a feature.
	ErrFeatureDenied = errors.New("feature not available for subscription tier")
	// ErrEngineNotReady is returned by a zero or partially built Engine.
	ErrEngineNotReady = errors.New("engine not ready")
)

// ValidationError describes a rejected input field. It matches ErrValidation
// under errors.Is.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// RateLimitError describes a request refused by a rate limiter. It matches
// ErrRateLimited under errors.Is.
type RateLimitError struct {
	Class      string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.Class == "" {
		return fmt.Sprintf("rate limited: retry after %s", e.RetryAfter)
	}
	return fmt.Sprintf("rate limited (%s): retry after %s", e.Class, e.RetryAfter)
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

package api

import (
	"errors"
	"net/http"

	andyweb "github.com/CallMeChewy/AndyWeb"
	"github.com/CallMeChewy/AndyWeb/internal/api/response"
)

// writeError maps an Engine error to a status code and detail. Unexpected
// errors are logged and answered with fallback.
func (h *AuthHandler) writeError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var verr *andyweb.ValidationError
	switch {
	case errors.As(err, &verr):
		response.Detail(w, http.StatusUnprocessableEntity, verr.Error())
	case errors.Is(err, andyweb.ErrEmailExists):
		response.Detail(w, http.StatusConflict, "Email address already registered")
	case errors.Is(err, andyweb.ErrUsernameExists):
		response.Detail(w, http.StatusConflict, "Username already taken")
	case errors.Is(err, andyweb.ErrInvalidCredentials):
		response.Detail(w, http.StatusUnauthorized, "Invalid email or password")
	case errors.Is(err, andyweb.ErrAccountLocked):
		response.Detail(w, http.StatusLocked, "Account temporarily locked due to failed login attempts")
	case errors.Is(err, andyweb.ErrAccountUnverified):
		response.Detail(w, http.StatusForbidden, "Email address not verified")
	case errors.Is(err, andyweb.ErrSessionInvalid):
		response.Unauthorized(w)
	case errors.Is(err, andyweb.ErrRefreshInvalid):
		response.Detail(w, http.StatusUnauthorized, "Invalid or expired refresh token")
	case errors.Is(err, andyweb.ErrEmailVerificationInvalid):
		response.Detail(w, http.StatusBadRequest, "Invalid or expired verification token")
	case errors.Is(err, andyweb.ErrEmailVerificationDisabled):
		response.Detail(w, http.StatusNotFound, "Email verification is not enabled")
	case errors.Is(err, andyweb.ErrUserNotFound):
		response.Detail(w, http.StatusNotFound, "User not found")
	case errors.Is(err, andyweb.ErrFeatureDenied):
		response.Forbidden(w, "Feature not available for your subscription tier")
	case errors.Is(err, andyweb.ErrStorageUnavailable), errors.Is(err, andyweb.ErrEngineNotReady):
		response.Detail(w, http.StatusServiceUnavailable, "Database connection failed")
	default:
		h.log.Error(r.Context(), fallback, "error", err)
		response.Detail(w, http.StatusInternalServerError, fallback)
	}
}

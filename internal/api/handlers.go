package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	andyweb "github.com/CallMeChewy/AndyWeb"
	"github.com/CallMeChewy/AndyWeb/internal/api/response"
	"github.com/CallMeChewy/AndyWeb/internal/logging"
	"github.com/CallMeChewy/AndyWeb/middleware"
)

const maxBodyBytes = 1 << 20

// AuthHandler handles the /api/auth endpoints.
type AuthHandler struct {
	engine *andyweb.Engine
	log    logging.Logger
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(engine *andyweb.Engine, log logging.Logger) *AuthHandler {
	if log == nil {
		log = logging.Nop()
	}
	return &AuthHandler{engine: engine, log: log}
}

// decode reads a JSON body into dst. Malformed bodies answer 422 like any
// other invalid input.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			response.Detail(w, http.StatusUnprocessableEntity, "Request body is required")
			return false
		}
		response.Detail(w, http.StatusUnprocessableEntity, "Invalid request body")
		return false
	}
	return true
}

// Register handles user registration
// POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.engine.Register(r.Context(), andyweb.RegisterRequest{
		Email:    req.Email,
		Password: req.Password,
		Username: req.Username,
		Tier:     andyweb.Tier(req.SubscriptionTier),
	})
	if err != nil {
		h.writeError(w, r, err, "Registration failed")
		return
	}

	message := fmt.Sprintf("Registration successful! Welcome to BowersWorld.com, %s member.", res.User.Tier)
	if res.VerificationRequired {
		message += " Please check your email to verify your address."
	}
	response.JSON(w, http.StatusOK, RegisterResponse{
		User:                      toUserResponse(res.User),
		Message:                   message,
		EmailVerificationRequired: res.VerificationRequired,
	})
}

// Login handles credential login
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.engine.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, err, "Login failed")
		return
	}

	message := fmt.Sprintf("Welcome back to BowersWorld.com, %s member!", res.User.Tier)
	response.JSON(w, http.StatusOK, toLoginResponse(res, message))
}

// Refresh exchanges a refresh token for a new pair
// POST /api/auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !decode(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		response.Detail(w, http.StatusUnprocessableEntity, "refresh_token: is required")
		return
	}

	res, err := h.engine.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.writeError(w, r, err, "Session refresh failed")
		return
	}
	response.JSON(w, http.StatusOK, toLoginResponse(res, "Session refreshed"))
}

// VerifyEmail consumes an email verification token
// POST /api/auth/verify-email
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req VerifyEmailRequest
	if !decode(w, r, &req) {
		return
	}

	if _, err := h.engine.VerifyEmail(r.Context(), req.Token); err != nil {
		h.writeError(w, r, err, "Email verification failed")
		return
	}
	response.Message(w, "Email address verified")
}

// ResendVerification issues a fresh verification token to the caller
// POST /api/auth/resend-verification
func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	auth, _ := middleware.SessionFromContext(r.Context())

	if err := h.engine.ResendVerification(r.Context(), auth.User.ID); err != nil {
		h.writeError(w, r, err, "Failed to send verification email")
		return
	}
	response.Message(w, "Verification email sent")
}

// Logout revokes the caller's session
// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token, _ := middleware.BearerToken(r)

	if err := h.engine.Logout(r.Context(), token); err != nil {
		h.writeError(w, r, err, "Logout failed")
		return
	}
	response.Message(w, "Logout successful")
}

// LogoutAll revokes every session of the caller
// POST /api/auth/logout-all
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	auth, _ := middleware.SessionFromContext(r.Context())

	n, err := h.engine.LogoutAll(r.Context(), auth.User.ID)
	if err != nil {
		h.writeError(w, r, err, "Logout failed")
		return
	}
	response.JSON(w, http.StatusOK, LogoutAllResponse{
		Message:      fmt.Sprintf("Logged out of %d sessions", n),
		RevokedCount: n,
	})
}

// Profile returns the caller's account
// GET /api/auth/profile
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	auth, _ := middleware.SessionFromContext(r.Context())

	user, err := h.engine.Profile(r.Context(), auth.User.ID)
	if err != nil {
		h.writeError(w, r, err, "Failed to get user profile")
		return
	}
	response.JSON(w, http.StatusOK, toUserResponse(user))
}

// Deactivate closes the caller's account
// DELETE /api/auth/profile
func (h *AuthHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	auth, _ := middleware.SessionFromContext(r.Context())

	if err := h.engine.DeactivateAccount(r.Context(), auth.User.ID); err != nil {
		h.writeError(w, r, err, "Failed to deactivate account")
		return
	}
	response.Message(w, "Account deactivated")
}

// Stats reports registration and session totals
// GET /api/auth/stats
func (h *AuthHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.UserStats(r.Context())
	if err != nil {
		h.writeError(w, r, err, "Failed to get user statistics")
		return
	}

	byTier := make(map[string]int64, len(stats.UsersByTier))
	for t, n := range stats.UsersByTier {
		byTier[string(t)] = n
	}
	response.JSON(w, http.StatusOK, UserStatsResponse{
		TotalUsers:     stats.TotalUsers,
		UsersByTier:    byTier,
		NewUsersToday:  stats.NewUsersToday,
		ActiveSessions: stats.ActiveSessions,
	})
}

// CleanupSessions deletes expired and revoked sessions
// POST /api/auth/cleanup-sessions
func (h *AuthHandler) CleanupSessions(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.CleanupSessions(r.Context())
	if err != nil {
		h.writeError(w, r, err, "Session cleanup failed")
		return
	}
	response.JSON(w, http.StatusOK, CleanupResponse{
		Message:      fmt.Sprintf("Cleaned up %d expired sessions", n),
		CleanedCount: n,
	})
}

// ChangeTier moves a user to another subscription tier
// PUT /api/auth/users/{id}/tier
func (h *AuthHandler) ChangeTier(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		response.Detail(w, http.StatusUnprocessableEntity, "id: must be a positive integer")
		return
	}

	var req ChangeTierRequest
	if !decode(w, r, &req) {
		return
	}

	user, err := h.engine.ChangeTier(r.Context(), id, andyweb.Tier(req.SubscriptionTier))
	if err != nil {
		h.writeError(w, r, err, "Failed to change subscription tier")
		return
	}
	response.JSON(w, http.StatusOK, toUserResponse(user))
}

// Health reports store connectivity
// GET /api/health
func (h *AuthHandler) Health(w http.ResponseWriter, r *http.Request) {
	err := h.engine.Health(r.Context())
	body := HealthResponse{
		Status:            "healthy",
		Timestamp:         time.Now().UTC(),
		DatabaseConnected: err == nil,
	}
	if err != nil {
		h.log.Warn(r.Context(), "health check failed", "error", err)
		body.Status = "unhealthy"
		response.JSON(w, http.StatusServiceUnavailable, body)
		return
	}
	response.JSON(w, http.StatusOK, body)
}

package api

import (
	"time"

	andyweb "github.com/CallMeChewy/AndyWeb"
)

// RegisterRequest is the body of POST /api/auth/register.
type RegisterRequest struct {
	Email            string `json:"email"`
	Password         string `json:"password"`
	Username         string `json:"username,omitempty"`
	SubscriptionTier string `json:"subscription_tier,omitempty"`
}

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type VerifyEmailRequest struct {
	Token string `json:"token"`
}

type ChangeTierRequest struct {
	SubscriptionTier string `json:"subscription_tier"`
}

// UserResponse represents a user in API responses. Credentials and lockout
// counters are never exposed.
type UserResponse struct {
	ID               int64      `json:"id"`
	Email            string     `json:"email"`
	Username         *string    `json:"username"`
	SubscriptionTier string     `json:"subscription_tier"`
	IsActive         bool       `json:"is_active"`
	EmailVerified    bool       `json:"email_verified"`
	LastLoginDate    *time.Time `json:"last_login_date"`
	CreatedDate      time.Time  `json:"created_date"`
}

type RegisterResponse struct {
	User                      UserResponse `json:"user"`
	Message                   string       `json:"message"`
	EmailVerificationRequired bool         `json:"email_verification_required"`
}

type LoginResponse struct {
	User             UserResponse `json:"user"`
	SessionToken     string       `json:"session_token"`
	RefreshToken     string       `json:"refresh_token"`
	ExpiresAt        time.Time    `json:"expires_at"`
	RefreshExpiresAt time.Time    `json:"refresh_expires_at"`
	Message          string       `json:"message"`
}

type UserStatsResponse struct {
	TotalUsers     int64            `json:"total_users"`
	UsersByTier    map[string]int64 `json:"users_by_tier"`
	NewUsersToday  int64            `json:"new_users_today"`
	ActiveSessions int64            `json:"active_sessions"`
}

type LogoutAllResponse struct {
	Message      string `json:"message"`
	RevokedCount int64  `json:"revoked_count"`
}

type CleanupResponse struct {
	Message      string `json:"message"`
	CleanedCount int64  `json:"cleaned_count"`
}

type HealthResponse struct {
	Status            string    `json:"status"`
	Timestamp         time.Time `json:"timestamp"`
	DatabaseConnected bool      `json:"database_connected"`
}

func toUserResponse(u *andyweb.User) UserResponse {
	out := UserResponse{
		ID:               u.ID,
		Email:            u.Email,
		SubscriptionTier: string(u.Tier),
		IsActive:         u.Active,
		EmailVerified:    u.EmailVerified,
		CreatedDate:      u.CreatedAt,
	}
	if u.Username != "" {
		name := u.Username
		out.Username = &name
	}
	if !u.LastLoginAt.IsZero() {
		at := u.LastLoginAt
		out.LastLoginDate = &at
	}
	return out
}

func toLoginResponse(res *andyweb.LoginResult, message string) LoginResponse {
	return LoginResponse{
		User:             toUserResponse(res.User),
		SessionToken:     res.SessionToken,
		RefreshToken:     res.RefreshToken,
		ExpiresAt:        res.ExpiresAt,
		RefreshExpiresAt: res.RefreshExpiresAt,
		Message:          message,
	}
}

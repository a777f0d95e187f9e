package session

import "time"

// Session is a persisted login. Token fields hold digests, never plaintext.
type Session struct {
	ID               int64
	UserID           int64
	TokenHash        string
	RefreshHash      string
	ExpiresAt        time.Time
	RefreshExpiresAt time.Time
	IPAddress        string
	UserAgent        string
	Active           bool
	CreatedAt        time.Time
	LastAccessAt     time.Time
}

// Usable reports whether the session token may authenticate a request at now.
func (s *Session) Usable(now time.Time) bool {
	return s != nil && s.Active && now.Before(s.ExpiresAt)
}

// Refreshable reports whether the refresh token may be exchanged at now.
// A revoked session cannot be refreshed even if its refresh window is open.
func (s *Session) Refreshable(now time.Time) bool {
	return s != nil && s.Active && now.Before(s.RefreshExpiresAt)
}

// New describes a session about to be inserted.
type New struct {
	UserID           int64
	TokenHash        string
	RefreshHash      string
	ExpiresAt        time.Time
	RefreshExpiresAt time.Time
	IPAddress        string
	UserAgent        string
	CreatedAt        time.Time
}

// FromPair fills a New from a minted token pair.
func FromPair(userID int64, p Pair, ip, userAgent string, now time.Time) New {
	return New{
		UserID:           userID,
		TokenHash:        p.SessionHash,
		RefreshHash:      p.RefreshHash,
		ExpiresAt:        p.ExpiresAt,
		RefreshExpiresAt: p.RefreshExpiresAt,
		IPAddress:        ip,
		UserAgent:        userAgent,
		CreatedAt:        now,
	}
}

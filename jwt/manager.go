package jwt

import (
	"crypto"
	"crypto/ed25519"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the token signature algorithm.
type SigningMethod string

const (
	MethodHS256   SigningMethod = "hs256"
	MethodEd25519 SigningMethod = "ed25519"
)

// PurposeEmailVerification is the purpose claim of email-verification tokens.
const PurposeEmailVerification = "email_verification"

const (
	minHMACKeyBytes = 32
	maxLeeway       = 2 * time.Minute
)

var (
	// ErrWrongPurpose is returned by Parse for a valid token minted for a
	// different purpose.
	ErrWrongPurpose = errors.New("token purpose mismatch")
	// ErrBadSubject is returned by Parse when the subject is not a user id.
	ErrBadSubject = errors.New("token subject is not a user id")
)

// Config configures a Manager.
type Config struct {
	TTL           time.Duration
	SigningMethod SigningMethod
	// PrivateKey is the HMAC secret for hs256 or the ed25519 private key
	// (raw or PEM) for ed25519.
	PrivateKey []byte
	// PublicKey optionally overrides the ed25519 verification key derived
	// from PrivateKey.
	PublicKey []byte
	Issuer    string
	Leeway    time.Duration
	// Now overrides the clock used for issuing and validating. Nil means time.Now.
	Now func() time.Time
}

// Manager signs and parses purpose-bound tokens. Keys are resolved once in
// NewManager.
type Manager struct {
	ttl    time.Duration
	issuer string
	now    func() time.Time

	method    jwt.SigningMethod
	signKey   any
	verifyKey any
	parser    *jwt.Parser
}

// Claims is the payload of a purpose-bound token. The subject is the
// numeric user id.
type Claims struct {
	Email   string `json:"email"`
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

// UserID decodes the subject claim.
func (c *Claims) UserID() (int64, error) {
	return strconv.ParseInt(c.Subject, 10, 64)
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.TTL <= 0 {
		return nil, errors.New("token TTL must be positive")
	}
	if cfg.Leeway < 0 || cfg.Leeway > maxLeeway {
		return nil, fmt.Errorf("token leeway must be within [0, %s]", maxLeeway)
	}

	m := &Manager{ttl: cfg.TTL, issuer: cfg.Issuer, now: cfg.Now}
	if m.now == nil {
		m.now = time.Now
	}

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < minHMACKeyBytes {
			return nil, fmt.Errorf("hs256 requires a key of at least %d bytes", minHMACKeyBytes)
		}
		secret := append([]byte(nil), cfg.PrivateKey...)
		m.method, m.signKey, m.verifyKey = jwt.SigningMethodHS256, secret, secret
	case MethodEd25519:
		priv, err := edPrivateKey(cfg.PrivateKey)
		if err != nil {
			return nil, err
		}
		var pub crypto.PublicKey = priv.Public()
		if len(cfg.PublicKey) > 0 {
			if pub, err = edPublicKey(cfg.PublicKey); err != nil {
				return nil, err
			}
		}
		m.method, m.signKey, m.verifyKey = jwt.SigningMethodEdDSA, priv, pub
	default:
		return nil, fmt.Errorf("unsupported signing method %q", cfg.SigningMethod)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(m.now),
	}
	if cfg.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(cfg.Leeway))
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	m.parser = jwt.NewParser(opts...)

	return m, nil
}

// Issue signs a token for userID carrying email and purpose.
func (m *Manager) Issue(userID int64, email, purpose string) (string, time.Time, error) {
	if purpose == "" {
		return "", time.Time{}, errors.New("token purpose is required")
	}
	now := m.now()
	expires := now.Add(m.ttl)

	signed, err := jwt.NewWithClaims(m.method, Claims{
		Email:   email,
		Purpose: purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    m.issuer,
		},
	}).SignedString(m.signKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

// Parse verifies tokenStr and checks that it was issued for purpose.
func (m *Manager) Parse(tokenStr, purpose string) (*Claims, error) {
	claims := &Claims{}
	token, err := m.parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return m.verifyKey, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.Purpose != purpose {
		return nil, ErrWrongPurpose
	}
	if _, err := claims.UserID(); err != nil {
		return nil, ErrBadSubject
	}
	return claims, nil
}

func edPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return append(ed25519.PrivateKey(nil), key...), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	priv, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return priv, nil
}

func edPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return append(ed25519.PublicKey(nil), key...), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	pub, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return pub, nil
}

package andyweb

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the full Engine configuration. Start from DefaultConfig or
// ConfigForEnvironment and adjust; Build validates it.
type Config struct {
	Environment       Environment
	Password          PasswordConfig
	Lockout           LockoutConfig
	Session           SessionConfig
	Tiers             map[Tier]TierPolicy
	DefaultTier       Tier
	EmailVerification EmailVerificationConfig
	Security          SecurityConfig
	Audit             AuditConfig
	Metrics           MetricsConfig
}

// Environment selects a configuration preset.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// ParseEnvironment maps s to an Environment; unknown values fall back to
// development.
func ParseEnvironment(s string) Environment {
	switch Environment(strings.ToLower(strings.TrimSpace(s))) {
	case EnvProduction:
		return EnvProduction
	case EnvStaging:
		return EnvStaging
	default:
		return EnvDevelopment
	}
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig bounds plaintext length (in characters) and sets the
// argon2id cost. There are no complexity rules.
type PasswordConfig struct {
	MinLength int
	MaxLength int

	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	// MaxConcurrentHashes caps simultaneous hash computations; 0 is unbounded.
	MaxConcurrentHashes int64
	UpgradeOnLogin      bool
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig controls per-account lockout after consecutive failures.
type LockoutConfig struct {
	Enabled     bool
	MaxAttempts int
	Duration    time.Duration
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig sets token lifetimes.
type SessionConfig struct {
	TTL        time.Duration
	RefreshTTL time.Duration
	// CreateAttempts is how many fresh token pairs are tried when a digest
	// collides with an existing row.
	CreateAttempts int
}

// EmailVerificationConfig controls signed verification tokens.
type EmailVerificationConfig struct {
	Enabled         bool
	RequireForLogin bool
	TTL             time.Duration
	// SigningKey is the HS256 secret, at least 32 bytes.
	SigningKey []byte
	Issuer     string
}

// AuditConfig controls the asynchronous activity dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig toggles in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig holds hardening toggles.
type SecurityConfig struct {
	// EqualizeLoginTiming verifies unknown emails against a dummy hash so a
	// miss costs the same as a wrong password.
	EqualizeLoginTiming bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the staging/production baseline without a signing
// key. Email verification stays off until a key is supplied.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Environment: EnvProduction,
		Password: PasswordConfig{
			MinLength:           8,
			MaxLength:           100,
			Memory:              19 * 1024,
			Time:                2,
			Parallelism:         1,
			SaltLength:          16,
			KeyLength:           32,
			MaxConcurrentHashes: 8,
			UpgradeOnLogin:      true,
		},
		Lockout: LockoutConfig{
			Enabled:     true,
			MaxAttempts: 5,
			Duration:    time.Hour,
		},
		Session: SessionConfig{
			TTL:            24 * time.Hour,
			RefreshTTL:     30 * 24 * time.Hour,
			CreateAttempts: 3,
		},
		Tiers:       DefaultTiers(),
		DefaultTier: TierFree,
		EmailVerification: EmailVerificationConfig{
			Enabled:         false,
			RequireForLogin: false,
			TTL:             24 * time.Hour,
			Issuer:          "bowersworld.com",
		},
		Security: SecurityConfig{
			EqualizeLoginTiming: true,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
	}
}

// ConfigForEnvironment returns the preset for env. signingKey enables email
// verification on staging and production; development never requires it.
func ConfigForEnvironment(env Environment, signingKey []byte) Config {
	cfg := defaultConfig()
	cfg.Environment = env
	switch env {
	case EnvStaging, EnvProduction:
		if len(signingKey) > 0 {
			cfg.EmailVerification.Enabled = true
			cfg.EmailVerification.SigningKey = cloneBytes(signingKey)
		}
	default:
		cfg.Environment = EnvDevelopment
		cfg.Session.TTL = 48 * time.Hour
		cfg.EmailVerification.Enabled = false
		cfg.EmailVerification.SigningKey = cloneBytes(signingKey)
	}
	return cfg
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Tiers = cloneTiers(cfg.Tiers)
	out.EmailVerification.SigningKey = cloneBytes(cfg.EmailVerification.SigningKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first inconsistency in c.
func (c *Config) Validate() error {
	// Password
	if c.Password.MinLength < 1 {
		return errors.New("Password MinLength must be >= 1")
	}
	if c.Password.MaxLength < c.Password.MinLength {
		return errors.New("Password MaxLength must be >= MinLength")
	}
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MaxConcurrentHashes < 0 {
		return errors.New("Password MaxConcurrentHashes must be >= 0")
	}

	// Lockout
	if c.Lockout.Enabled {
		if c.Lockout.MaxAttempts < 1 {
			return errors.New("Lockout MaxAttempts must be >= 1")
		}
		if c.Lockout.Duration <= 0 {
			return errors.New("Lockout Duration must be > 0")
		}
	}

	// Session
	if c.Session.TTL <= 0 {
		return errors.New("Session TTL must be > 0")
	}
	if c.Session.RefreshTTL < c.Session.TTL {
		return errors.New("Session RefreshTTL must be >= TTL")
	}
	if c.Session.CreateAttempts < 1 {
		return errors.New("Session CreateAttempts must be >= 1")
	}

	// Tiers
	if err := validateTiers(c.Tiers); err != nil {
		return err
	}
	if _, ok := c.Tiers[c.DefaultTier]; !ok {
		return fmt.Errorf("DefaultTier %q is not configured", c.DefaultTier)
	}
	if c.DefaultTier == TierGuest {
		return errors.New("DefaultTier cannot be guest")
	}

	// Email verification
	if c.EmailVerification.Enabled {
		if c.EmailVerification.TTL <= 0 {
			return errors.New("EmailVerification TTL must be > 0")
		}
		if len(c.EmailVerification.SigningKey) < 32 {
			return errors.New("EmailVerification SigningKey must be at least 32 bytes")
		}
	}
	if c.EmailVerification.RequireForLogin && !c.EmailVerification.Enabled {
		return errors.New("EmailVerification RequireForLogin requires Enabled")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	return nil
}

package security

import "time"

type PasswordReport struct {
	Memory        uint32
	Time          uint32
	Parallelism   uint8
	SaltLength    uint32
	KeyLength     uint32
	MaxConcurrent int64
}

// Report is a read-only snapshot of the security-relevant settings.
type Report struct {
	Environment                  string
	Argon2                       PasswordReport
	SessionTTL                   time.Duration
	RefreshTTL                   time.Duration
	LockoutActive                bool
	LockoutMaxAttempts           int
	LockoutDuration              time.Duration
	SessionCapsActive            bool
	EmailVerificationActive      bool
	VerificationRequiredForLogin bool
	LoginTimingEqualized         bool
	HashConcurrencyBounded       bool
	AuditActive                  bool
	// Warnings lists settings that are weak for the environment.
	Warnings []string
}

type ReportInput struct {
	Environment              string
	Production               bool
	Password                 PasswordReport
	SessionTTL               time.Duration
	RefreshTTL               time.Duration
	LockoutEnabled           bool
	LockoutMaxAttempts       int
	LockoutDuration          time.Duration
	TierMaxSessions          []int
	EmailVerificationEnabled bool
	RequireVerifiedLogin     bool
	EqualizeLoginTiming      bool
	AuditEnabled             bool
}

func BuildReport(input ReportInput) Report {
	sessionCaps := len(input.TierMaxSessions) > 0
	for _, n := range input.TierMaxSessions {
		if n <= 0 {
			sessionCaps = false
			break
		}
	}

	lockout := input.LockoutEnabled &&
		input.LockoutMaxAttempts > 0 &&
		input.LockoutDuration > 0

	r := Report{
		Environment:                  input.Environment,
		Argon2:                       input.Password,
		SessionTTL:                   input.SessionTTL,
		RefreshTTL:                   input.RefreshTTL,
		LockoutActive:                lockout,
		LockoutMaxAttempts:           input.LockoutMaxAttempts,
		LockoutDuration:              input.LockoutDuration,
		SessionCapsActive:            sessionCaps,
		EmailVerificationActive:      input.EmailVerificationEnabled,
		VerificationRequiredForLogin: input.EmailVerificationEnabled && input.RequireVerifiedLogin,
		LoginTimingEqualized:         input.EqualizeLoginTiming,
		HashConcurrencyBounded:       input.Password.MaxConcurrent > 0,
		AuditActive:                  input.AuditEnabled,
	}

	if input.Production {
		if !lockout {
			r.Warnings = append(r.Warnings, "account lockout is disabled")
		}
		if !input.EmailVerificationEnabled {
			r.Warnings = append(r.Warnings, "email verification is disabled")
		}
		if !input.EqualizeLoginTiming {
			r.Warnings = append(r.Warnings, "login timing is not equalized")
		}
		if input.Password.Memory < 19*1024 {
			r.Warnings = append(r.Warnings, "argon2 memory is below 19 MiB")
		}
		if !r.HashConcurrencyBounded {
			r.Warnings = append(r.Warnings, "password hashing concurrency is unbounded")
		}
	}
	return r
}

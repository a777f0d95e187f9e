package andyweb

import "github.com/CallMeChewy/AndyWeb/internal/security"

// SecurityReport is a read-only snapshot of the engine's security posture,
// returned by [Engine.SecurityReport].
type SecurityReport = security.Report

// PasswordConfigReport describes the argon2id parameters in a SecurityReport.
type PasswordConfigReport = security.PasswordReport

// SecurityReport summarizes the active hardening settings. Production
// engines list weak settings in Warnings.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	caps := make([]int, 0, len(e.config.Tiers))
	for _, p := range e.config.Tiers {
		caps = append(caps, p.MaxSessions)
	}

	return security.BuildReport(security.ReportInput{
		Environment: string(e.config.Environment),
		Production:  e.config.Environment == EnvProduction,
		Password: security.PasswordReport{
			Memory:        e.config.Password.Memory,
			Time:          e.config.Password.Time,
			Parallelism:   e.config.Password.Parallelism,
			SaltLength:    e.config.Password.SaltLength,
			KeyLength:     e.config.Password.KeyLength,
			MaxConcurrent: e.config.Password.MaxConcurrentHashes,
		},
		SessionTTL:               e.config.Session.TTL,
		RefreshTTL:               e.config.Session.RefreshTTL,
		LockoutEnabled:           e.config.Lockout.Enabled,
		LockoutMaxAttempts:       e.config.Lockout.MaxAttempts,
		LockoutDuration:          e.config.Lockout.Duration,
		TierMaxSessions:          caps,
		EmailVerificationEnabled: e.config.EmailVerification.Enabled,
		RequireVerifiedLogin:     e.config.EmailVerification.RequireForLogin,
		EqualizeLoginTiming:      e.config.Security.EqualizeLoginTiming,
		AuditEnabled:             e.config.Audit.Enabled,
	})
}

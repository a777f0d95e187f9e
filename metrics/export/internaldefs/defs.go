package internaldefs

import (
	andyweb "github.com/CallMeChewy/AndyWeb"
)

// CounterDef names one exported counter.
type CounterDef struct {
	ID   andyweb.MetricID
	Name string
	Help string
}

// HistogramDef names one exported histogram.
type HistogramDef struct {
	ID   andyweb.MetricID
	Name string
	Help string
}

// CounterDefs lists every counter in export order.
var CounterDefs = []CounterDef{
	{ID: andyweb.MetricRegisterSuccess, Name: "andyweb_register_success_total", Help: "Successful registrations."},
	{ID: andyweb.MetricRegisterDuplicate, Name: "andyweb_register_duplicate_total", Help: "Registrations rejected for a duplicate email or username."},
	{ID: andyweb.MetricRegisterInvalid, Name: "andyweb_register_invalid_total", Help: "Registrations rejected by validation."},
	{ID: andyweb.MetricLoginSuccess, Name: "andyweb_login_success_total", Help: "Successful logins."},
	{ID: andyweb.MetricLoginFailure, Name: "andyweb_login_failure_total", Help: "Failed logins."},
	{ID: andyweb.MetricLoginLocked, Name: "andyweb_login_locked_total", Help: "Logins refused because the account was locked."},
	{ID: andyweb.MetricAccountLocked, Name: "andyweb_account_locked_total", Help: "Accounts locked after repeated failures."},
	{ID: andyweb.MetricSessionCreated, Name: "andyweb_session_created_total", Help: "Created sessions."},
	{ID: andyweb.MetricSessionEvicted, Name: "andyweb_session_evicted_total", Help: "Sessions revoked by the tier session cap."},
	{ID: andyweb.MetricSessionValidated, Name: "andyweb_session_validated_total", Help: "Successful session validations."},
	{ID: andyweb.MetricSessionInvalid, Name: "andyweb_session_invalid_total", Help: "Rejected session validations."},
	{ID: andyweb.MetricLogout, Name: "andyweb_logout_total", Help: "Single-session logouts."},
	{ID: andyweb.MetricLogoutAll, Name: "andyweb_logout_all_total", Help: "Logout-all operations."},
	{ID: andyweb.MetricRefreshSuccess, Name: "andyweb_refresh_success_total", Help: "Successful refreshes."},
	{ID: andyweb.MetricRefreshFailure, Name: "andyweb_refresh_failure_total", Help: "Failed refreshes."},
	{ID: andyweb.MetricSessionsCleaned, Name: "andyweb_sessions_cleaned_total", Help: "Expired or inactive sessions deleted."},
	{ID: andyweb.MetricEmailVerificationSent, Name: "andyweb_email_verification_sent_total", Help: "Verification tokens issued."},
	{ID: andyweb.MetricEmailVerificationSuccess, Name: "andyweb_email_verification_success_total", Help: "Successful email verifications."},
	{ID: andyweb.MetricEmailVerificationFailure, Name: "andyweb_email_verification_failure_total", Help: "Failed email verifications."},
	{ID: andyweb.MetricTierChanged, Name: "andyweb_tier_changed_total", Help: "Subscription tier changes."},
	{ID: andyweb.MetricAccountDeactivated, Name: "andyweb_account_deactivated_total", Help: "Deactivated accounts."},
	{ID: andyweb.MetricPasswordRehashed, Name: "andyweb_password_rehashed_total", Help: "Password hashes upgraded on login."},
	{ID: andyweb.MetricRateLimitHit, Name: "andyweb_rate_limit_hit_total", Help: "Requests denied by the rate limiter."},
	{ID: andyweb.MetricRateLimitError, Name: "andyweb_rate_limit_error_total", Help: "Rate limiter backend errors."},
	{ID: andyweb.MetricStorageError, Name: "andyweb_storage_error_total", Help: "Operations failed by an unavailable store."},
}

// HistogramDefs lists every histogram in export order.
var HistogramDefs = []HistogramDef{
	{ID: andyweb.MetricValidateLatency, Name: "andyweb_validate_latency_seconds", Help: "Session validation latency."},
}

// HistogramBounds are the upper bounds, in seconds, of the latency buckets.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix are metric-name-safe spellings of HistogramBounds.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed array, zero-filling short input.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts to running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}

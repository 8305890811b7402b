package internaldefs

import (
	"github.com/loanflow/gatekeeper"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   gatekeeper.MetricID
	Name string
	Help string
}

// HistogramDef names one engine latency histogram for export.
type HistogramDef struct {
	ID   gatekeeper.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: gatekeeper.MetricLoginSuccess, Name: "gatekeeper_login_success_total", Help: "Successful logins."},
	{ID: gatekeeper.MetricLoginFailure, Name: "gatekeeper_login_failure_total", Help: "Logins rejected for bad credentials."},
	{ID: gatekeeper.MetricLoginLockedRejected, Name: "gatekeeper_login_locked_rejected_total", Help: "Logins refused because the account was locked."},
	{ID: gatekeeper.MetricLoginUnverified, Name: "gatekeeper_login_unverified_total", Help: "Logins refused because the email was not verified."},
	{ID: gatekeeper.MetricAccountLocked, Name: "gatekeeper_account_locked_total", Help: "Accounts locked after repeated failures."},
	{ID: gatekeeper.MetricRefreshSuccess, Name: "gatekeeper_refresh_success_total", Help: "Access tokens minted from refresh tokens."},
	{ID: gatekeeper.MetricRefreshFailure, Name: "gatekeeper_refresh_failure_total", Help: "Rejected refresh attempts."},
	{ID: gatekeeper.MetricAuthenticateSuccess, Name: "gatekeeper_authenticate_success_total", Help: "Requests authenticated by the gate."},
	{ID: gatekeeper.MetricAuthenticateFailure, Name: "gatekeeper_authenticate_failure_total", Help: "Requests rejected by the gate."},
	{ID: gatekeeper.MetricRoleDenied, Name: "gatekeeper_role_denied_total", Help: "Authenticated requests refused for missing role."},
	{ID: gatekeeper.MetricRateLimitHit, Name: "gatekeeper_rate_limit_hit_total", Help: "Requests rejected by the rate limiter."},
	{ID: gatekeeper.MetricAccountCreated, Name: "gatekeeper_account_created_total", Help: "Registered accounts."},
	{ID: gatekeeper.MetricAccountDuplicate, Name: "gatekeeper_account_duplicate_total", Help: "Registrations rejected as duplicate."},
	{ID: gatekeeper.MetricOTPIssued, Name: "gatekeeper_otp_issued_total", Help: "One-time codes issued."},
	{ID: gatekeeper.MetricOTPSuppressed, Name: "gatekeeper_otp_suppressed_total", Help: "Code requests for unknown or already verified accounts."},
	{ID: gatekeeper.MetricOTPConsumed, Name: "gatekeeper_otp_consumed_total", Help: "One-time codes accepted."},
	{ID: gatekeeper.MetricOTPInvalid, Name: "gatekeeper_otp_invalid_total", Help: "One-time codes rejected as wrong."},
	{ID: gatekeeper.MetricOTPExpired, Name: "gatekeeper_otp_expired_total", Help: "One-time codes rejected as expired."},
	{ID: gatekeeper.MetricEmailVerified, Name: "gatekeeper_email_verified_total", Help: "Emails verified."},
	{ID: gatekeeper.MetricPasswordReset, Name: "gatekeeper_password_reset_total", Help: "Passwords reset."},
	{ID: gatekeeper.MetricStoreConflict, Name: "gatekeeper_store_conflict_total", Help: "Account updates abandoned after repeated version conflicts."},
	{ID: gatekeeper.MetricNotificationFailed, Name: "gatekeeper_notification_failed_total", Help: "Notifications the mailer failed to deliver."},
}

var HistogramDefs = []HistogramDef{
	{ID: gatekeeper.MetricAuthenticateLatency, Name: "gatekeeper_authenticate_latency_seconds", Help: "Token authentication latency."},
}

// HistogramBounds are the upper bounds of the engine latency buckets, in
// seconds.
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

// NormalizeBuckets copies raw into a fixed array, padding with zeros.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into the running totals
// Prometheus expects.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}

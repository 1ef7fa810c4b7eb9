package internaldefs

import (
	goLinkAuth "github.com/MrEthical07/goLinkAuth"
)

// CounterDef binds an engine counter to its exported name.
type CounterDef struct {
	ID   goLinkAuth.MetricID
	Name string
	Help string
}

// HistogramDef binds an engine latency histogram to its exported name.
type HistogramDef struct {
	ID   goLinkAuth.MetricID
	Name string
	Help string
}

// AuditDroppedName is the counter exported for AuditDropped.
const AuditDroppedName = "linkauth_audit_dropped_total"

var CounterDefs = []CounterDef{
	{ID: goLinkAuth.MetricMagicLinkRequested, Name: "linkauth_magic_link_requested_total", Help: "Magic links issued and delivered."},
	{ID: goLinkAuth.MetricMagicLinkDeliveryFailed, Name: "linkauth_magic_link_delivery_failed_total", Help: "Magic links the deliverer could not send."},
	{ID: goLinkAuth.MetricMagicLinkUnknownPrincipal, Name: "linkauth_magic_link_unknown_principal_total", Help: "Magic-link requests for identifiers matching no principal."},
	{ID: goLinkAuth.MetricMagicLinkRateLimited, Name: "linkauth_magic_link_rate_limited_total", Help: "Rate-limited magic-link requests."},
	{ID: goLinkAuth.MetricMagicLinkConsumed, Name: "linkauth_magic_link_consumed_total", Help: "Magic links consumed successfully."},
	{ID: goLinkAuth.MetricMagicLinkRejected, Name: "linkauth_magic_link_rejected_total", Help: "Rejected magic-link tokens (invalid, expired, reused)."},
	{ID: goLinkAuth.MetricMagicLinkSwept, Name: "linkauth_magic_link_swept_total", Help: "Expired magic-link tokens deleted."},
	{ID: goLinkAuth.MetricPasswordLoginSuccess, Name: "linkauth_password_login_success_total", Help: "Successful password first factors."},
	{ID: goLinkAuth.MetricPasswordLoginFailure, Name: "linkauth_password_login_failure_total", Help: "Failed password first factors."},
	{ID: goLinkAuth.MetricPasswordRehashNeeded, Name: "linkauth_password_rehash_needed_total", Help: "Password logins whose stored hash used lower argon2id costs."},
	{ID: goLinkAuth.MetricLoginRateLimited, Name: "linkauth_login_rate_limited_total", Help: "Rate-limited password logins."},
	{ID: goLinkAuth.MetricSecondFactorChallenge, Name: "linkauth_second_factor_challenge_total", Help: "Logins routed to the second-factor challenge."},
	{ID: goLinkAuth.MetricSecondFactorSuccess, Name: "linkauth_second_factor_success_total", Help: "Successful second-factor verifications."},
	{ID: goLinkAuth.MetricSecondFactorFailure, Name: "linkauth_second_factor_failure_total", Help: "Failed second-factor verifications."},
	{ID: goLinkAuth.MetricSecondFactorLockedOut, Name: "linkauth_second_factor_locked_out_total", Help: "Second-factor attempts rejected by lockout."},
	{ID: goLinkAuth.MetricSecondFactorReplayRejected, Name: "linkauth_second_factor_replay_rejected_total", Help: "Valid TOTP codes rejected as replays."},
	{ID: goLinkAuth.MetricSecondFactorEnabled, Name: "linkauth_second_factor_enabled_total", Help: "Second-factor enrollments."},
	{ID: goLinkAuth.MetricSecondFactorDisabled, Name: "linkauth_second_factor_disabled_total", Help: "Second-factor removals."},
	{ID: goLinkAuth.MetricBackupCodeUsed, Name: "linkauth_backup_code_used_total", Help: "Backup codes consumed."},
	{ID: goLinkAuth.MetricBackupCodesRegenerated, Name: "linkauth_backup_codes_regenerated_total", Help: "Backup-code regenerations."},
	{ID: goLinkAuth.MetricGraceStarted, Name: "linkauth_grace_started_total", Help: "Grace periods started."},
	{ID: goLinkAuth.MetricGraceExpired, Name: "linkauth_grace_expired_total", Help: "Privileged access denied after the grace deadline."},
	{ID: goLinkAuth.MetricGraceNotified, Name: "linkauth_grace_notified_total", Help: "Grace-period notices sent."},
	{ID: goLinkAuth.MetricSoleAdminBypass, Name: "linkauth_sole_admin_bypass_total", Help: "Expired grace periods bypassed for the last administrator."},
	{ID: goLinkAuth.MetricOverrideBypass, Name: "linkauth_override_bypass_total", Help: "Logins that skipped the second factor under the emergency override."},
	{ID: goLinkAuth.MetricOverrideChanged, Name: "linkauth_override_changed_total", Help: "Runtime emergency override changes."},
	{ID: goLinkAuth.MetricSessionCreated, Name: "linkauth_session_created_total", Help: "Created sessions."},
	{ID: goLinkAuth.MetricSessionInvalidated, Name: "linkauth_session_invalidated_total", Help: "Access tokens rejected for a missing or rebound session."},
	{ID: goLinkAuth.MetricLogout, Name: "linkauth_logout_total", Help: "Single-session logouts."},
	{ID: goLinkAuth.MetricLogoutAll, Name: "linkauth_logout_all_total", Help: "Logout-all operations."},
}

var HistogramDefs = []HistogramDef{
	{ID: goLinkAuth.MetricValidateLatency, Name: "linkauth_validate_latency_seconds", Help: "Session validation latency."},
	{ID: goLinkAuth.MetricConsumeLatency, Name: "linkauth_consume_latency_seconds", Help: "Magic-link consumption latency."},
}

// HistogramUpperBounds are the bucket upper bounds in seconds, excluding +Inf.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

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

// NormalizeBuckets pads or truncates raw to the eight engine buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into le-style running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}

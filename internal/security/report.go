package security

import "time"

// Warning codes attached to a Report.
const (
	WarnEmergencyOverride   = "emergency_override_active"
	WarnNoRequiredRoles     = "no_roles_require_second_factor"
	WarnSharedSecretSigning = "shared_secret_signing"
	WarnRateLimitingOff     = "magic_link_rate_limiting_disabled"
	WarnLongTokenTTL        = "magic_link_ttl_over_30m"
	WarnPendingCapOff       = "pending_attempt_cap_disabled"
	WarnWideDrift           = "totp_drift_over_1"
)

type PasswordReport struct {
	Enabled     bool
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

type Report struct {
	SigningAlgorithm string
	AccessTTL        time.Duration
	SessionTTL       time.Duration
	MagicLinkTTL     time.Duration
	TOTPDrift        uint
	Argon2           PasswordReport

	RequiredRoles    []string
	GracePeriod      time.Duration
	LockoutThreshold int
	LockoutDuration  time.Duration

	EmergencyOverrideActive     bool
	EmergencyOverrideDeployment bool
	EmergencyOverrideRuntime    bool

	RateLimitingActive  bool
	FingerprintBinding  bool
	AuditEnabled        bool
	PendingAttemptLimit int

	// Warnings lists weakened settings, most severe first.
	Warnings []string
}

type ReportInput struct {
	SigningAlgorithm   string
	AccessTTL          time.Duration
	SessionTTL         time.Duration
	MagicLinkTTL       time.Duration
	TOTPDrift          uint
	Password           PasswordReport
	RequiredRoles      []string
	GracePeriod        time.Duration
	LockoutThreshold   int
	LockoutDuration    time.Duration
	DeploymentOverride bool
	RuntimeOverride    bool
	MaxMagicLinkReqs   int
	MaxMagicLinkReqsIP int
	FingerprintBinding bool
	AuditEnabled       bool
	MaxPendingAttempts int
}

func BuildReport(input ReportInput) Report {
	r := Report{
		SigningAlgorithm:            input.SigningAlgorithm,
		AccessTTL:                   input.AccessTTL,
		SessionTTL:                  input.SessionTTL,
		MagicLinkTTL:                input.MagicLinkTTL,
		TOTPDrift:                   input.TOTPDrift,
		Argon2:                      input.Password,
		RequiredRoles:               append([]string(nil), input.RequiredRoles...),
		GracePeriod:                 input.GracePeriod,
		LockoutThreshold:            input.LockoutThreshold,
		LockoutDuration:             input.LockoutDuration,
		EmergencyOverrideActive:     input.DeploymentOverride || input.RuntimeOverride,
		EmergencyOverrideDeployment: input.DeploymentOverride,
		EmergencyOverrideRuntime:    input.RuntimeOverride,
		RateLimitingActive:          input.MaxMagicLinkReqs > 0 || input.MaxMagicLinkReqsIP > 0,
		FingerprintBinding:          input.FingerprintBinding,
		AuditEnabled:                input.AuditEnabled,
		PendingAttemptLimit:         input.MaxPendingAttempts,
	}

	if r.EmergencyOverrideActive {
		r.Warnings = append(r.Warnings, WarnEmergencyOverride)
	}
	if len(r.RequiredRoles) == 0 {
		r.Warnings = append(r.Warnings, WarnNoRequiredRoles)
	}
	if !r.RateLimitingActive {
		r.Warnings = append(r.Warnings, WarnRateLimitingOff)
	}
	if input.SigningAlgorithm == "hs256" {
		r.Warnings = append(r.Warnings, WarnSharedSecretSigning)
	}
	if input.MagicLinkTTL > 30*time.Minute {
		r.Warnings = append(r.Warnings, WarnLongTokenTTL)
	}
	if input.MaxPendingAttempts == 0 {
		r.Warnings = append(r.Warnings, WarnPendingCapOff)
	}
	if input.TOTPDrift > 1 {
		r.Warnings = append(r.Warnings, WarnWideDrift)
	}
	return r
}

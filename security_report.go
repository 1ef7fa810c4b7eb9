package goLinkAuth

import (
	"context"

	"github.com/MrEthical07/goLinkAuth/internal/security"
)

// SecurityReport is the effective security posture of an Engine. An active
// emergency override is always the first entry of Warnings.
type SecurityReport = security.Report

// SecurityReport reads the runtime override flag and reports the posture.
func (e *Engine) SecurityReport(ctx context.Context) (SecurityReport, error) {
	if !e.ready() {
		return SecurityReport{}, ErrEngineNotReady
	}

	status, err := e.EmergencyOverrideStatus(ctx)
	if err != nil {
		return SecurityReport{}, err
	}

	return security.BuildReport(security.ReportInput{
		SigningAlgorithm: e.config.JWT.SigningMethod,
		AccessTTL:        e.config.JWT.AccessTTL,
		SessionTTL:       e.config.Session.TTL,
		MagicLinkTTL:     e.config.MagicLink.TokenTTL,
		TOTPDrift:        e.config.SecondFactor.Drift,
		Password: security.PasswordReport{
			Enabled:     e.config.Password.Enabled,
			Memory:      e.config.Password.Memory,
			Time:        e.config.Password.Time,
			Parallelism: e.config.Password.Parallelism,
			SaltLength:  e.config.Password.SaltLength,
			KeyLength:   e.config.Password.KeyLength,
		},
		RequiredRoles:      e.config.Policy.RequiredRoles,
		GracePeriod:        e.config.Policy.GracePeriod,
		LockoutThreshold:   e.config.Policy.LockoutThreshold,
		LockoutDuration:    e.config.Policy.LockoutDuration,
		DeploymentOverride: status.Deployment,
		RuntimeOverride:    status.Runtime,
		MaxMagicLinkReqs:   e.config.RateLimit.MaxMagicLinkRequests,
		MaxMagicLinkReqsIP: e.config.RateLimit.MaxMagicLinkRequestsIP,
		FingerprintBinding: e.config.Session.BindFingerprint,
		AuditEnabled:       e.config.Audit.Enabled,
		MaxPendingAttempts: e.config.SecondFactor.MaxPendingAttempts,
	}), nil
}

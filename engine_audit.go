package goLinkAuth

import (
	"context"
	"errors"
)

const (
	auditEventMagicLinkRequested        = "magic_link_requested"
	auditEventMagicLinkUnknownPrincipal = "magic_link_unknown_principal"
	auditEventMagicLinkDeliveryFailed   = "magic_link_delivery_failed"
	auditEventMagicLinkConsumed         = "magic_link_consumed"
	auditEventMagicLinkRejected         = "magic_link_rejected"
	auditEventTokensSwept               = "magic_link_tokens_swept"
	auditEventPasswordLoginSuccess      = "password_login_success"
	auditEventPasswordLoginFailure      = "password_login_failure"
	auditEventPasswordRehashNeeded      = "password_rehash_needed"
	auditEventRateLimitTriggered        = "rate_limit_triggered"
	auditEventSecondFactorChallenge     = "second_factor_challenge"
	auditEventSecondFactorSuccess       = "second_factor_success"
	auditEventSecondFactorFailure       = "second_factor_failure"
	auditEventSecondFactorLockedOut     = "second_factor_locked_out"
	auditEventSecondFactorExceeded      = "second_factor_attempts_exceeded"
	auditEventSecondFactorSetupBegin    = "second_factor_setup_requested"
	auditEventSecondFactorEnabled       = "second_factor_enabled"
	auditEventSecondFactorSetupFailure  = "second_factor_setup_failure"
	auditEventSecondFactorDisabled      = "second_factor_disabled"
	auditEventBackupCodesRegenerated    = "backup_codes_regenerated"
	auditEventPendingLoginCancelled     = "pending_login_cancelled"
	auditEventGraceCountdown            = "grace_countdown"
	auditEventGraceExpired              = "grace_expired"
	auditEventGraceNotified             = "grace_notified"
	auditEventSoleAdminBypass           = "sole_admin_bypass"
	auditEventOverrideBypass            = "emergency_override_bypass"
	auditEventOverrideChanged           = "emergency_override_changed"
	auditEventLogoutSession             = "logout_session"
	auditEventLogoutAll                 = "logout_all"
)

// AuditErrorCode is the stable, caller-safe error label stored on audit
// events.
type AuditErrorCode string

const (
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrUnknownPrincipal   AuditErrorCode = "unknown_principal"
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrInvalidCode        AuditErrorCode = "invalid_code"
	auditErrLockedOut          AuditErrorCode = "locked_out"
	auditErrDeliveryFailed     AuditErrorCode = "delivery_failed"
	auditErrRoleRequires       AuditErrorCode = "role_requires_second_factor"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrGraceExpired       AuditErrorCode = "grace_expired"
	auditErrPendingNotFound    AuditErrorCode = "pending_not_found"
	auditErrNotEnabled         AuditErrorCode = "second_factor_not_enabled"
	auditErrAlreadyEnabled     AuditErrorCode = "second_factor_already_enabled"
	auditErrNotAdministrator   AuditErrorCode = "not_administrator"
	auditErrInvalidRedirect    AuditErrorCode = "invalid_redirect"
	auditErrSessionInvalid     AuditErrorCode = "session_invalid"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	principalID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp:   e.now().UTC(),
		EventType:   eventType,
		PrincipalID: principalID,
		SessionID:   sessionID,
		IP:          clientIPFromContext(ctx),
		Success:     success,
		Metadata:    metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(ctx context.Context, scope string, metric MetricID) {
	e.metricInc(metric)
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, "", "", ErrRateLimited, func() map[string]string {
		return map[string]string{"scope": scope}
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidOrExpiredToken):
		return auditErrInvalidToken
	case errors.Is(err, ErrUnknownPrincipal):
		return auditErrUnknownPrincipal
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrInvalidCode):
		return auditErrInvalidCode
	case errors.Is(err, ErrLockedOut):
		return auditErrLockedOut
	case errors.Is(err, ErrDeliveryFailed):
		return auditErrDeliveryFailed
	case errors.Is(err, ErrRoleRequiresSecondFactor):
		return auditErrRoleRequires
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrGracePeriodExpired):
		return auditErrGraceExpired
	case errors.Is(err, ErrPendingSessionNotFound):
		return auditErrPendingNotFound
	case errors.Is(err, ErrSecondFactorNotEnabled):
		return auditErrNotEnabled
	case errors.Is(err, ErrSecondFactorAlreadyEnabled):
		return auditErrAlreadyEnabled
	case errors.Is(err, ErrNotAdministrator):
		return auditErrNotAdministrator
	case errors.Is(err, ErrInvalidRedirect):
		return auditErrInvalidRedirect
	case errors.Is(err, ErrSessionInvalid):
		return auditErrSessionInvalid
	case errors.Is(err, ErrBackendUnavailable),
		errors.Is(err, ErrEngineNotReady):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}

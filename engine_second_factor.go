package goLinkAuth

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/MrEthical07/goLinkAuth/internal/flows"
	"github.com/MrEthical07/goLinkAuth/internal/sqlstore"
	"github.com/MrEthical07/goLinkAuth/internal/totp"
)

// BeginSecondFactorSetup generates a fresh shared secret and its
// provisioning URI. Nothing is stored until SetupSecondFactor confirms it.
func (e *Engine) BeginSecondFactorSetup(ctx context.Context, principalID string) (*SecondFactorSetup, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	principal, err := e.principalByID(ctx, principalID)
	if err != nil {
		return nil, err
	}
	cred, err := e.loadCredential(ctx, principal.ID)
	if err != nil {
		return nil, e.backendErr("load credential", err)
	}
	if cred != nil && cred.Enabled {
		return nil, ErrSecondFactorAlreadyEnabled
	}

	secret, err := totp.GenerateSecret()
	if err != nil {
		return nil, e.backendErr("generate secret", err)
	}

	e.emitAudit(ctx, auditEventSecondFactorSetupBegin, true, principal.ID, "", nil, nil)
	return &SecondFactorSetup{
		Secret:          secret,
		ProvisioningURI: totp.ProvisioningURI(e.config.SecondFactor.Issuer, accountLabel(principal), secret),
	}, nil
}

// SetupSecondFactor enables the second factor once code proves the principal
// holds secret. It returns the plaintext backup codes; they are shown once and
// only their hashes are kept.
func (e *Engine) SetupSecondFactor(ctx context.Context, principalID, secret, code string) ([]string, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	principal, err := e.principalByID(ctx, principalID)
	if err != nil {
		return nil, err
	}
	principalID = principal.ID

	secret = strings.ToUpper(strings.TrimSpace(secret))
	code = strings.TrimSpace(code)
	now := e.now()
	var step uint64
	ok := totp.ValidateSecret(secret) == nil && totp.IsValidCodeFormat(code)
	if ok {
		step, ok = totp.MatchStep(code, secret, now, e.config.SecondFactor.Drift)
	}
	if !ok {
		e.emitAudit(ctx, auditEventSecondFactorSetupFailure, false, principalID, "", ErrInvalidCode, nil)
		return nil, ErrInvalidCode
	}

	codes, salt, hashes, err := e.newBackupCodes()
	if err != nil {
		return nil, e.backendErr("generate backup codes", err)
	}

	if err := e.store.EnableCredential(ctx, principalID, secret, salt, hashes, now); err != nil {
		if errors.Is(err, sqlstore.ErrAlreadyEnabled) {
			return nil, ErrSecondFactorAlreadyEnabled
		}
		return nil, e.backendErr("enable credential", err)
	}

	// The confirming code cannot be replayed as a login code.
	if err := e.store.RecordTOTPSuccess(ctx, principalID, step, now); err != nil &&
		!errors.Is(err, sqlstore.ErrPrecondition) {
		e.logger.Warn("record setup code", zap.String("principal_id", principalID), zap.Error(err))
	}
	if err := e.store.DeleteGraceState(ctx, principalID); err != nil {
		e.logger.Warn("clear grace state", zap.String("principal_id", principalID), zap.Error(err))
	}

	e.metricInc(MetricSecondFactorEnabled)
	e.emitAudit(ctx, auditEventSecondFactorEnabled, true, principalID, "", nil, nil)
	return codes, nil
}

// VerifySecondFactor completes a login left in StateSecondFactorPending with a
// 6-digit TOTP code or an 8-digit backup code.
//
// Failures return ErrInvalidCode, or a *LockedOutError once the lockout
// threshold is crossed. ErrPendingSessionNotFound means the pending login
// expired, was cancelled, or was already completed.
func (e *Engine) VerifySecondFactor(ctx context.Context, pendingID, code string) (*LoginResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	res, err := flows.RunVerifySecondFactor(ctx, pendingID, code, e.flows.SecondFactor)
	if err != nil {
		return nil, err
	}

	return &LoginResult{
		State:       LoginState(res.State),
		PrincipalID: res.PrincipalID,
		Redirect:    res.Redirect,
		Session: &Session{
			ID:           res.Session.SessionID,
			AccessToken:  res.Session.AccessToken,
			ExpiresAt:    res.Session.ExpiresAt,
			SecondFactor: true,
		},
	}, nil
}

// DisableSecondFactor removes the credential of a principal whose roles do not
// require one.
func (e *Engine) DisableSecondFactor(ctx context.Context, principalID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	principal, err := e.principalByID(ctx, principalID)
	if err != nil {
		return err
	}
	if e.roleRequiresSecondFactor(principal.Roles) {
		e.emitAudit(ctx, auditEventSecondFactorDisabled, false, principal.ID, "", ErrRoleRequiresSecondFactor, nil)
		return ErrRoleRequiresSecondFactor
	}

	if err := e.store.DisableCredential(ctx, principal.ID, e.now()); err != nil {
		if errors.Is(err, sqlstore.ErrNotEnabled) {
			return ErrSecondFactorNotEnabled
		}
		return e.backendErr("disable credential", err)
	}

	e.metricInc(MetricSecondFactorDisabled)
	e.emitAudit(ctx, auditEventSecondFactorDisabled, true, principal.ID, "", nil, nil)
	return nil
}

// RegenerateBackupCodes replaces every backup code of principalID. A current
// TOTP code is required; a wrong one counts toward the lockout.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, principalID, code string) ([]string, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	cred, err := e.loadCredential(ctx, principalID)
	if err != nil {
		return nil, e.backendErr("load credential", err)
	}
	if cred == nil || !cred.Enabled {
		return nil, ErrSecondFactorNotEnabled
	}

	now := e.now()
	if remaining, locked := cred.LockedAt(now); locked {
		e.metricInc(MetricSecondFactorLockedOut)
		return nil, newLockedOutError(remaining)
	}

	code = strings.TrimSpace(code)
	accepted := false
	step, matched := totp.MatchStep(code, cred.Secret, now, e.config.SecondFactor.Drift)
	if matched {
		err := e.store.RecordTOTPSuccess(ctx, principalID, step, now)
		switch {
		case err == nil:
			accepted = true
		case errors.Is(err, sqlstore.ErrPrecondition):
			e.metricInc(MetricSecondFactorReplayRejected)
		default:
			return nil, e.backendErr("record totp success", err)
		}
	}
	if !accepted {
		return nil, e.recordCodeFailure(ctx, principalID)
	}

	codes, salt, hashes, err := e.newBackupCodes()
	if err != nil {
		return nil, e.backendErr("generate backup codes", err)
	}
	if err := e.store.ReplaceBackupCodes(ctx, principalID, salt, hashes, now); err != nil {
		if errors.Is(err, sqlstore.ErrNotEnabled) {
			return nil, ErrSecondFactorNotEnabled
		}
		return nil, e.backendErr("replace backup codes", err)
	}

	e.metricInc(MetricBackupCodesRegenerated)
	e.emitAudit(ctx, auditEventBackupCodesRegenerated, true, principalID, "", nil, nil)
	return codes, nil
}

// CancelPendingLogin abandons a login waiting for its second factor. Unknown
// ids are not an error.
func (e *Engine) CancelPendingLogin(ctx context.Context, pendingID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if pendingID == "" {
		return nil
	}

	removed, err := e.pendingStore.Delete(ctx, pendingID)
	if err != nil {
		return e.backendErr("delete pending login", err)
	}
	if removed {
		e.emitAudit(ctx, auditEventPendingLoginCancelled, true, "", "", nil, nil)
	}
	return nil
}

func (e *Engine) recordCodeFailure(ctx context.Context, principalID string) error {
	now := e.now()
	e.metricInc(MetricSecondFactorFailure)

	outcome, err := e.store.RecordFailure(ctx, principalID, e.config.Policy.LockoutThreshold, e.config.Policy.LockoutDuration, now)
	if err != nil {
		return e.backendErr("record failure", err)
	}
	if outcome.LockedUntil != nil && outcome.LockedUntil.After(now) {
		e.metricInc(MetricSecondFactorLockedOut)
		lockErr := newLockedOutError(outcome.LockedUntil.Sub(now))
		e.emitAudit(ctx, auditEventSecondFactorLockedOut, false, principalID, "", lockErr, nil)
		return lockErr
	}
	e.emitAudit(ctx, auditEventSecondFactorFailure, false, principalID, "", ErrInvalidCode, nil)
	return ErrInvalidCode
}

func (e *Engine) newBackupCodes() (codes []string, salt []byte, hashes []string, err error) {
	codes, err = totp.GenerateBackupCodes(e.config.SecondFactor.BackupCodeCount)
	if err != nil {
		return nil, nil, nil, err
	}
	salt, err = totp.NewBackupSalt()
	if err != nil {
		return nil, nil, nil, err
	}
	return codes, salt, totp.HashBackupCodes(codes, salt), nil
}

func accountLabel(p *Principal) string {
	if p.Email != "" {
		return p.Email
	}
	if p.Username != "" {
		return p.Username
	}
	return p.ID
}

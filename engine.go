package goLinkAuth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MrEthical07/goLinkAuth/internal/flows"
	"github.com/MrEthical07/goLinkAuth/internal/rate"
	"github.com/MrEthical07/goLinkAuth/internal/records"
	"github.com/MrEthical07/goLinkAuth/internal/sqlstore"
	"github.com/MrEthical07/goLinkAuth/internal/stores"
	"github.com/MrEthical07/goLinkAuth/internal/totp"
	"github.com/MrEthical07/goLinkAuth/jwt"
	"github.com/MrEthical07/goLinkAuth/password"
	"github.com/MrEthical07/goLinkAuth/session"
)

const (
	methodMagicLink = "magic_link"
	methodPassword  = "password"
)

// Engine is the authentication boundary. It is safe for concurrent use and
// holds no per-request state; every race is settled by the SQL and Redis
// stores behind it.
type Engine struct {
	config Config
	logger *zap.Logger
	now    func() time.Time

	store        *sqlstore.Store
	sessionStore *session.Store
	pendingStore *stores.PendingStore
	rateLimiter  *rate.Limiter

	directory Directory
	deliverer Deliverer
	notifier  GraceNotifier

	audit        *auditDispatcher
	metrics      *Metrics
	passwordHash *password.Hasher
	dummyHash    string
	jwtManager   *jwt.Manager

	requiredRoles map[string]struct{}
	adminRoles    map[string]struct{}

	flows flows.Deps
}

// Close stops the audit dispatcher after draining queued events. It does not
// close the Redis client or the SQL store.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns how many audit events were dropped on a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) flowMetricInc(id int) {
	e.metricInc(MetricID(id))
}

func (e *Engine) observeSince(id MetricID, start time.Time) {
	if e == nil || !e.metrics.LatencyEnabled() {
		return
	}
	e.metrics.Observe(id, time.Since(start))
}

func (e *Engine) ready() bool {
	return e != nil &&
		e.store != nil &&
		e.sessionStore != nil &&
		e.pendingStore != nil &&
		e.directory != nil &&
		e.jwtManager != nil
}

func (e *Engine) roleRequiresSecondFactor(roles []string) bool {
	for _, r := range roles {
		if _, ok := e.requiredRoles[r]; ok {
			return true
		}
	}
	return false
}

func (e *Engine) isAdministrator(roles []string) bool {
	for _, r := range roles {
		if _, ok := e.adminRoles[r]; ok {
			return true
		}
	}
	return false
}

// loadCredential returns nil, nil for a principal without a credential row.
func (e *Engine) loadCredential(ctx context.Context, principalID string) (*records.SecondFactorCredential, error) {
	cred, err := e.store.Credential(ctx, principalID)
	if errors.Is(err, sqlstore.ErrNotFound) {
		return nil, nil
	}
	return cred, err
}

func (e *Engine) principalByID(ctx context.Context, principalID string) (*Principal, error) {
	if principalID == "" {
		return nil, ErrUnknownPrincipal
	}
	p, err := e.directory.PrincipalByID(ctx, principalID)
	if err != nil {
		if errors.Is(err, ErrUnknownPrincipal) {
			return nil, ErrUnknownPrincipal
		}
		return nil, e.backendErr("directory lookup", err)
	}
	if p == nil {
		return nil, ErrUnknownPrincipal
	}
	return p, nil
}

// backendErr logs a storage or directory failure and wraps it in
// ErrBackendUnavailable.
func (e *Engine) backendErr(op string, err error) error {
	e.logger.Error("auth backend failure", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}

// fingerprint hashes the client ip and user agent carried by ctx.
func fingerprint(ctx context.Context) [32]byte {
	return sha256.Sum256([]byte(clientIPFromContext(ctx) + "\x00" + userAgentFromContext(ctx)))
}

func fingerprintHex(ctx context.Context) string {
	fp := fingerprint(ctx)
	return hex.EncodeToString(fp[:])
}

func (e *Engine) initFlowDeps() {
	e.flows = flows.Deps{
		Gate: flows.GateDeps{
			Now:                      e.now,
			PendingTTL:               e.config.SecondFactor.PendingTTL,
			GracePeriod:              e.config.Policy.GracePeriod,
			OverrideActive:           e.overrideActive,
			LoadCredential:           e.loadCredential,
			RoleRequiresSecondFactor: e.roleRequiresSecondFactor,
			EnsureGraceState:         e.store.EnsureGraceState,
			NewPendingID:             uuid.NewString,
			SavePending:              e.pendingStore.Save,
			FinalizeSession:          e.finalizeSession,
			WarnOverride: func(principalID, method string) {
				e.logger.Warn("emergency override bypassed second factor",
					zap.String("principal_id", principalID),
					zap.String("method", method))
			},
			MetricInc: e.flowMetricInc,
			EmitAudit: e.emitAudit,
			Metrics: flows.GateMetrics{
				OverrideBypass:        int(MetricOverrideBypass),
				SecondFactorChallenge: int(MetricSecondFactorChallenge),
				GraceStarted:          int(MetricGraceStarted),
			},
			Events: flows.GateEvents{
				OverrideBypass:        auditEventOverrideBypass,
				SecondFactorChallenge: auditEventSecondFactorChallenge,
				GraceCountdown:        auditEventGraceCountdown,
			},
			Errors: flows.GateErrors{
				EngineNotReady:     ErrEngineNotReady,
				BackendUnavailable: ErrBackendUnavailable,
			},
		},
		SecondFactor: flows.SecondFactorDeps{
			Now:                  e.now,
			Drift:                e.config.SecondFactor.Drift,
			LockoutThreshold:     e.config.Policy.LockoutThreshold,
			LockoutDuration:      e.config.Policy.LockoutDuration,
			MaxPendingAttempts:   e.config.SecondFactor.MaxPendingAttempts,
			GetPending:           e.pendingStore.Get,
			TakePending:          e.pendingStore.Take,
			RecordPendingFailure: e.pendingStore.RecordFailure,
			LoadCredential:       e.store.Credential,
			RecordFailure:        e.store.RecordFailure,
			RecordTOTPSuccess:    e.store.RecordTOTPSuccess,
			ConsumeBackupCode:    e.store.ConsumeBackupCode,
			IsCodeFormat:         totp.IsValidCodeFormat,
			IsBackupCodeFormat:   totp.IsValidBackupCodeFormat,
			NormalizeBackup:      totp.NormalizeBackupCode,
			MatchCode:            totp.MatchStep,
			HashBackupCode:       totp.HashBackupCode,
			FinalizeSession:      e.finalizeSession,
			MetricInc:            e.flowMetricInc,
			EmitAudit:            e.emitAudit,
			Metrics: flows.SecondFactorMetrics{
				Success:        int(MetricSecondFactorSuccess),
				Failure:        int(MetricSecondFactorFailure),
				LockedOut:      int(MetricSecondFactorLockedOut),
				BackupCodeUsed: int(MetricBackupCodeUsed),
				ReplayRejected: int(MetricSecondFactorReplayRejected),
			},
			Events: flows.SecondFactorEvents{
				Success:          auditEventSecondFactorSuccess,
				Failure:          auditEventSecondFactorFailure,
				LockedOut:        auditEventSecondFactorLockedOut,
				AttemptsExceeded: auditEventSecondFactorExceeded,
			},
			Errors: flows.SecondFactorErrors{
				EngineNotReady:     ErrEngineNotReady,
				PendingNotFound:    ErrPendingSessionNotFound,
				InvalidCode:        ErrInvalidCode,
				NotEnabled:         ErrSecondFactorNotEnabled,
				BackendUnavailable: ErrBackendUnavailable,
				NewLockedOut:       newLockedOutError,
				IsPendingNotFound: func(err error) bool {
					return errors.Is(err, stores.ErrPendingNotFound) || errors.Is(err, stores.ErrPendingExpired)
				},
				IsCredentialNotFound: func(err error) bool {
					return errors.Is(err, sqlstore.ErrNotFound)
				},
				IsPreconditionConflict: func(err error) bool {
					return errors.Is(err, sqlstore.ErrPrecondition)
				},
			},
		},
		Grace: flows.GraceDeps{
			Now:                      e.now,
			GracePeriod:              e.config.Policy.GracePeriod,
			RoleRequiresSecondFactor: e.roleRequiresSecondFactor,
			IsAdministrator:          e.isAdministrator,
			CountAdministrators:      e.directory.CountAdministrators,
			OverrideActive:           e.overrideActive,
			LoadCredential:           e.loadCredential,
			EnsureGraceState:         e.store.EnsureGraceState,
			MarkGraceNotified:        e.store.MarkGraceNotified,
			LogoutAll: func(ctx context.Context, principalID string) error {
				_, err := e.sessionStore.DeleteAllForPrincipal(ctx, principalID)
				return err
			},
			Notify: e.notifyGrace,
			OnNotifyError: func(principalID string, err error) {
				e.logger.Error("grace period notification failed",
					zap.String("principal_id", principalID),
					zap.Error(err))
			},
			WarnSoleAdmin: func(principalID string) {
				e.logger.Warn("sole administrator past second factor grace period; access allowed",
					zap.String("principal_id", principalID))
			},
			MetricInc: e.flowMetricInc,
			EmitAudit: e.emitAudit,
			Metrics: flows.GraceMetrics{
				Expired:         int(MetricGraceExpired),
				SoleAdminBypass: int(MetricSoleAdminBypass),
				Notified:        int(MetricGraceNotified),
			},
			Events: flows.GraceEvents{
				Expired:         auditEventGraceExpired,
				SoleAdminBypass: auditEventSoleAdminBypass,
				Notified:        auditEventGraceNotified,
			},
			Errors: flows.GraceErrors{
				EngineNotReady:     ErrEngineNotReady,
				Expired:            ErrGracePeriodExpired,
				BackendUnavailable: ErrBackendUnavailable,
			},
		},
	}
	if e.notifier == nil {
		e.flows.Grace.Notify = nil
	}
}

// runGate applies the second-factor gate to a principal whose first factor
// just succeeded.
func (e *Engine) runGate(ctx context.Context, principal *Principal, method, redirect string) (*LoginResult, error) {
	out, err := flows.RunFirstFactorGate(ctx, flows.GatePrincipal{
		ID:    principal.ID,
		Roles: principal.Roles,
	}, method, redirect, e.flows.Gate)
	if err != nil {
		return nil, err
	}

	res := &LoginResult{
		State:            LoginState(out.State),
		PrincipalID:      principal.ID,
		PendingID:        out.PendingID,
		PendingExpiresAt: out.PendingExpiresAt,
		EmergencyBypass:  out.EmergencyBypass,
	}
	if out.Session != nil {
		res.Redirect = redirect
		res.Session = &Session{
			ID:          out.Session.SessionID,
			AccessToken: out.Session.AccessToken,
			ExpiresAt:   out.Session.ExpiresAt,
		}
	}
	if out.GraceDeadline != nil {
		remaining := out.GraceDeadline.Sub(e.now())
		if remaining < 0 {
			remaining = 0
		}
		res.Grace = &GraceStatus{Deadline: *out.GraceDeadline, Remaining: remaining}
	}
	return res, nil
}

package flows

import (
	"context"
	"fmt"
	"time"

	"github.com/MrEthical07/goLinkAuth/internal/records"
)

// GraceDecision is the outcome of a privileged-access check that allowed
// the caller through.
type GraceDecision struct {
	Required        bool
	Configured      bool
	Deadline        time.Time
	Remaining       time.Duration
	SoleAdminBypass bool
	EmergencyBypass bool
}

type GraceMetrics struct {
	Expired         int
	SoleAdminBypass int
	Notified        int
}

type GraceEvents struct {
	Expired         string
	SoleAdminBypass string
	Notified        string
}

type GraceErrors struct {
	EngineNotReady     error
	Expired            error
	BackendUnavailable error
}

type GraceDeps struct {
	Now         func() time.Time
	GracePeriod time.Duration

	RoleRequiresSecondFactor func([]string) bool
	IsAdministrator          func([]string) bool
	CountAdministrators      func(context.Context) (int, error)

	OverrideActive    func(context.Context) (bool, error)
	LoadCredential    func(context.Context, string) (*records.SecondFactorCredential, error)
	EnsureGraceState  func(context.Context, string, time.Time) (*records.GraceState, error)
	MarkGraceNotified func(context.Context, string) (bool, error)
	LogoutAll         func(context.Context, string) error

	// Notify is optional. Failures are reported through OnNotifyError and do
	// not block access.
	Notify        func(ctx context.Context, principalID string, deadline time.Time) error
	OnNotifyError func(principalID string, err error)

	WarnSoleAdmin func(principalID string)

	MetricInc func(int)
	EmitAudit AuditFunc

	Metrics GraceMetrics
	Events  GraceEvents
	Errors  GraceErrors
}

// RunGraceCheck enforces the second-factor grace period on a privileged
// action. Before the deadline access is allowed with a countdown. At or after
// it every session of the principal is revoked and Errors.Expired returned,
// unless the principal is the only remaining administrator.
func RunGraceCheck(ctx context.Context, principal GatePrincipal, deps GraceDeps) (*GraceDecision, error) {
	normalizeGraceDeps(&deps)

	if deps.OverrideActive == nil || deps.LoadCredential == nil || deps.EnsureGraceState == nil || deps.LogoutAll == nil {
		return nil, deps.Errors.EngineNotReady
	}

	if !deps.RoleRequiresSecondFactor(principal.Roles) {
		return &GraceDecision{}, nil
	}

	override, err := deps.OverrideActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", deps.Errors.BackendUnavailable, err)
	}
	if override {
		return &GraceDecision{Required: true, EmergencyBypass: true}, nil
	}

	cred, err := deps.LoadCredential(ctx, principal.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", deps.Errors.BackendUnavailable, err)
	}
	if cred != nil && cred.Enabled {
		return &GraceDecision{Required: true, Configured: true}, nil
	}

	now := deps.Now()
	grace, err := deps.EnsureGraceState(ctx, principal.ID, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", deps.Errors.BackendUnavailable, err)
	}
	deadline := grace.RequiredSince.Add(deps.GracePeriod)

	if now.Before(deadline) {
		out := &GraceDecision{Required: true, Deadline: deadline, Remaining: deadline.Sub(now)}
		if !grace.Notified && deps.Notify != nil && deps.MarkGraceNotified != nil {
			notifyOnce(ctx, principal.ID, deadline, deps)
		}
		return out, nil
	}

	if deps.IsAdministrator(principal.Roles) && deps.CountAdministrators != nil {
		admins, err := deps.CountAdministrators(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", deps.Errors.BackendUnavailable, err)
		}
		if admins <= 1 {
			deps.WarnSoleAdmin(principal.ID)
			deps.MetricInc(deps.Metrics.SoleAdminBypass)
			deps.EmitAudit(ctx, deps.Events.SoleAdminBypass, true, principal.ID, "", nil, nil)
			return &GraceDecision{Required: true, Deadline: deadline, SoleAdminBypass: true}, nil
		}
	}

	if err := deps.LogoutAll(ctx, principal.ID); err != nil {
		return nil, fmt.Errorf("%w: %v", deps.Errors.BackendUnavailable, err)
	}
	deps.MetricInc(deps.Metrics.Expired)
	deps.EmitAudit(ctx, deps.Events.Expired, false, principal.ID, "", deps.Errors.Expired, nil)
	return nil, deps.Errors.Expired
}

func notifyOnce(ctx context.Context, principalID string, deadline time.Time, deps GraceDeps) {
	won, err := deps.MarkGraceNotified(ctx, principalID)
	if err != nil {
		deps.OnNotifyError(principalID, err)
		return
	}
	if !won {
		return
	}
	if err := deps.Notify(ctx, principalID, deadline); err != nil {
		deps.OnNotifyError(principalID, err)
		return
	}
	deps.MetricInc(deps.Metrics.Notified)
	deps.EmitAudit(ctx, deps.Events.Notified, true, principalID, "", nil, nil)
}

func normalizeGraceDeps(deps *GraceDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.RoleRequiresSecondFactor == nil {
		deps.RoleRequiresSecondFactor = func([]string) bool { return false }
	}
	if deps.IsAdministrator == nil {
		deps.IsAdministrator = func([]string) bool { return false }
	}
	if deps.WarnSoleAdmin == nil {
		deps.WarnSoleAdmin = func(string) {}
	}
	if deps.OnNotifyError == nil {
		deps.OnNotifyError = func(string, error) {}
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopAudit
	}
}

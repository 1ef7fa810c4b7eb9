package flows

import (
	"context"
	"fmt"
	"time"

	"github.com/MrEthical07/goLinkAuth/internal/records"
)

// GatePrincipal is the flow-local principal shape.
type GatePrincipal struct {
	ID    string
	Roles []string
}

// GateOutcome is where the first-factor gate left the login.
type GateOutcome struct {
	State            State
	PendingID        string
	PendingExpiresAt time.Time
	Session          *FinalizedSession
	EmergencyBypass  bool

	// GraceDeadline is set when the principal's role requires a second
	// factor that is not configured yet.
	GraceDeadline *time.Time
}

type GateMetrics struct {
	OverrideBypass        int
	SecondFactorChallenge int
	GraceStarted          int
}

type GateEvents struct {
	OverrideBypass        string
	SecondFactorChallenge string
	GraceCountdown        string
}

type GateErrors struct {
	EngineNotReady     error
	BackendUnavailable error
}

type GateDeps struct {
	Now         func() time.Time
	PendingTTL  time.Duration
	GracePeriod time.Duration

	OverrideActive           func(context.Context) (bool, error)
	LoadCredential           func(context.Context, string) (*records.SecondFactorCredential, error)
	RoleRequiresSecondFactor func([]string) bool
	EnsureGraceState         func(context.Context, string, time.Time) (*records.GraceState, error)
	NewPendingID             func() string
	SavePending              func(context.Context, string, *records.PendingSecondFactor, time.Duration) error
	FinalizeSession          func(context.Context, FinalizeRequest) (*FinalizedSession, error)

	// WarnOverride is called on every override bypass.
	WarnOverride func(principalID, method string)

	MetricInc func(int)
	EmitAudit AuditFunc

	Metrics GateMetrics
	Events  GateEvents
	Errors  GateErrors
}

// RunFirstFactorGate moves a principal whose first factor (password or magic
// link) just succeeded out of FirstFactorPending.
//
// With the emergency override active the login goes straight to
// Authenticated. Otherwise an enabled credential yields a pending marker and
// SecondFactorPending. A role requirement without a credential starts or
// continues the grace countdown and does not force a challenge.
func RunFirstFactorGate(ctx context.Context, principal GatePrincipal, method, redirect string, deps GateDeps) (*GateOutcome, error) {
	normalizeGateDeps(&deps)

	if deps.OverrideActive == nil ||
		deps.LoadCredential == nil ||
		deps.NewPendingID == nil ||
		deps.SavePending == nil ||
		deps.FinalizeSession == nil {
		return nil, deps.Errors.EngineNotReady
	}

	now := deps.Now()

	override, err := deps.OverrideActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", deps.Errors.BackendUnavailable, err)
	}
	if override {
		sess, err := deps.FinalizeSession(ctx, FinalizeRequest{
			PrincipalID:     principal.ID,
			Method:          method,
			Redirect:        redirect,
			EmergencyBypass: true,
		})
		if err != nil {
			return nil, err
		}
		deps.WarnOverride(principal.ID, method)
		deps.MetricInc(deps.Metrics.OverrideBypass)
		deps.EmitAudit(ctx, deps.Events.OverrideBypass, true, principal.ID, sess.SessionID, nil, func() map[string]string {
			return map[string]string{"method": method}
		})
		return &GateOutcome{State: StateAuthenticated, Session: sess, EmergencyBypass: true}, nil
	}

	cred, err := deps.LoadCredential(ctx, principal.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", deps.Errors.BackendUnavailable, err)
	}

	if cred != nil && cred.Enabled {
		id := deps.NewPendingID()
		expiresAt := now.Add(deps.PendingTTL)
		marker := &records.PendingSecondFactor{
			PrincipalID: principal.ID,
			Method:      method,
			Redirect:    redirect,
			ExpiresAt:   expiresAt.Unix(),
		}
		if err := deps.SavePending(ctx, id, marker, deps.PendingTTL); err != nil {
			return nil, fmt.Errorf("%w: %v", deps.Errors.BackendUnavailable, err)
		}
		deps.MetricInc(deps.Metrics.SecondFactorChallenge)
		deps.EmitAudit(ctx, deps.Events.SecondFactorChallenge, true, principal.ID, "", nil, func() map[string]string {
			return map[string]string{"method": method}
		})
		return &GateOutcome{State: StateSecondFactorPending, PendingID: id, PendingExpiresAt: expiresAt}, nil
	}

	out := &GateOutcome{State: StateAuthenticated}
	if deps.RoleRequiresSecondFactor(principal.Roles) && deps.EnsureGraceState != nil {
		grace, err := deps.EnsureGraceState(ctx, principal.ID, now)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", deps.Errors.BackendUnavailable, err)
		}
		deadline := grace.RequiredSince.Add(deps.GracePeriod)
		out.GraceDeadline = &deadline
		if grace.RequiredSince.Equal(now.Truncate(time.Second)) {
			deps.MetricInc(deps.Metrics.GraceStarted)
		}
		deps.EmitAudit(ctx, deps.Events.GraceCountdown, true, principal.ID, "", nil, func() map[string]string {
			return map[string]string{"deadline": deadline.UTC().Format(time.RFC3339)}
		})
	}

	sess, err := deps.FinalizeSession(ctx, FinalizeRequest{
		PrincipalID: principal.ID,
		Method:      method,
		Redirect:    redirect,
	})
	if err != nil {
		return nil, err
	}
	out.Session = sess
	return out, nil
}

func normalizeGateDeps(deps *GateDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.RoleRequiresSecondFactor == nil {
		deps.RoleRequiresSecondFactor = func([]string) bool { return false }
	}
	if deps.WarnOverride == nil {
		deps.WarnOverride = func(string, string) {}
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopAudit
	}
}

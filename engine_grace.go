package goLinkAuth

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goLinkAuth/internal/flows"
)

// CheckPrivilegedAccess enforces the second-factor grace period before a
// privileged action.
//
// It returns a nil status when no countdown applies (no role requirement,
// credential configured, or emergency override). While the grace period runs
// the status carries the deadline. Once it has passed every session of the
// principal is revoked and ErrGracePeriodExpired returned, unless the
// principal is the last administrator.
func (e *Engine) CheckPrivilegedAccess(ctx context.Context, principalID string) (*GraceStatus, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	principal, err := e.principalByID(ctx, principalID)
	if err != nil {
		return nil, err
	}

	decision, err := flows.RunGraceCheck(ctx, flows.GatePrincipal{
		ID:    principal.ID,
		Roles: principal.Roles,
	}, e.flows.Grace)
	if err != nil {
		return nil, err
	}
	if !decision.Required || decision.Configured || decision.EmergencyBypass {
		return nil, nil
	}
	return &GraceStatus{
		Deadline:        decision.Deadline,
		Remaining:       decision.Remaining,
		SoleAdminBypass: decision.SoleAdminBypass,
	}, nil
}

func (e *Engine) notifyGrace(ctx context.Context, principalID string, deadline time.Time) error {
	if e.notifier == nil {
		return errors.New("no grace notifier configured")
	}
	principal, err := e.principalByID(ctx, principalID)
	if err != nil {
		return err
	}
	return e.notifier.NotifyGracePeriod(ctx, *principal, deadline)
}

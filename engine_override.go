package goLinkAuth

import (
	"context"
	"strconv"

	"go.uber.org/zap"
)

// overrideActive resolves the emergency override for one request: the
// deployment flag OR the runtime flag.
func (e *Engine) overrideActive(ctx context.Context) (bool, error) {
	if e.config.Policy.EmergencyDisable {
		return true, nil
	}
	setting, err := e.store.EmergencyOverride(ctx)
	if err != nil {
		return false, err
	}
	return setting.Enabled, nil
}

// SetEmergencyOverride toggles the runtime emergency override. Only a
// principal holding an administrator role may change it. While active, no
// login is asked for a second factor and no grace period is enforced.
func (e *Engine) SetEmergencyOverride(ctx context.Context, actorID string, enabled bool) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	actor, err := e.principalByID(ctx, actorID)
	if err != nil {
		return err
	}
	if !e.isAdministrator(actor.Roles) {
		e.emitAudit(ctx, auditEventOverrideChanged, false, actor.ID, "", ErrNotAdministrator, nil)
		return ErrNotAdministrator
	}

	if err := e.store.SetEmergencyOverride(ctx, enabled, actor.ID, e.now()); err != nil {
		return e.backendErr("set emergency override", err)
	}

	e.logger.Warn("emergency override changed",
		zap.Bool("enabled", enabled),
		zap.String("actor", actor.ID))
	e.metricInc(MetricOverrideChanged)
	e.emitAudit(ctx, auditEventOverrideChanged, true, actor.ID, "", nil, func() map[string]string {
		return map[string]string{"enabled": strconv.FormatBool(enabled)}
	})
	return nil
}

// EmergencyOverrideStatus reports both override triggers.
func (e *Engine) EmergencyOverrideStatus(ctx context.Context) (OverrideStatus, error) {
	if !e.ready() {
		return OverrideStatus{}, ErrEngineNotReady
	}

	setting, err := e.store.EmergencyOverride(ctx)
	if err != nil {
		return OverrideStatus{}, e.backendErr("load emergency override", err)
	}
	return OverrideStatus{
		Active:     e.config.Policy.EmergencyDisable || setting.Enabled,
		Deployment: e.config.Policy.EmergencyDisable,
		Runtime:    setting.Enabled,
		UpdatedBy:  setting.UpdatedBy,
		UpdatedAt:  setting.UpdatedAt,
	}, nil
}

package goLinkAuth

import (
	"context"
	"crypto/subtle"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MrEthical07/goLinkAuth/internal/flows"
	"github.com/MrEthical07/goLinkAuth/session"
)

// finalizeSession persists a session record and signs its access token.
func (e *Engine) finalizeSession(ctx context.Context, req flows.FinalizeRequest) (*flows.FinalizedSession, error) {
	now := e.now()
	ttl := e.config.Session.TTL

	sess := &session.Session{
		SessionID:            uuid.NewString(),
		PrincipalID:          req.PrincipalID,
		Method:               req.Method,
		SecondFactorVerified: req.SecondFactor,
		EmergencyBypass:      req.EmergencyBypass,
		FingerprintHash:      fingerprint(ctx),
		CreatedAt:            now.Unix(),
		ExpiresAt:            now.Add(ttl).Unix(),
	}
	if err := e.sessionStore.Save(ctx, sess, ttl); err != nil {
		return nil, e.backendErr("save session", err)
	}

	token, err := e.jwtManager.CreateAccess(req.PrincipalID, sess.SessionID, amrFor(req), req.SecondFactor, ttl)
	if err != nil {
		if _, delErr := e.sessionStore.Delete(ctx, req.PrincipalID, sess.SessionID); delErr != nil {
			e.logger.Error("remove unsigned session", zap.String("session_id", sess.SessionID), zap.Error(delErr))
		}
		return nil, e.backendErr("sign access token", err)
	}

	e.metricInc(MetricSessionCreated)
	return &flows.FinalizedSession{
		SessionID:   sess.SessionID,
		AccessToken: token,
		ExpiresAt:   time.Unix(sess.ExpiresAt, 0),
	}, nil
}

func amrFor(req flows.FinalizeRequest) []string {
	amr := make([]string, 0, 2)
	switch req.Method {
	case methodPassword:
		amr = append(amr, "pwd")
	case methodMagicLink:
		amr = append(amr, "mlink")
	}
	if req.SecondFactor {
		amr = append(amr, "otp")
	}
	if req.EmergencyBypass {
		amr = append(amr, "override")
	}
	return amr
}

// ValidateSession verifies an access token and the live session behind it.
// A token whose session was logged out, revoked by grace enforcement, or
// expired is rejected with ErrSessionInvalid.
func (e *Engine) ValidateSession(ctx context.Context, accessToken string) (*AuthResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	defer e.observeSince(MetricValidateLatency, start)

	claims, err := e.jwtManager.ParseAccess(accessToken)
	if err != nil {
		return nil, ErrSessionInvalid
	}

	sess, err := e.sessionStore.Get(ctx, claims.SID, e.now())
	if err != nil {
		if errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrInvalidEncoding) {
			e.metricInc(MetricSessionInvalidated)
			return nil, ErrSessionInvalid
		}
		return nil, e.backendErr("load session", err)
	}
	if sess.PrincipalID != claims.UID {
		return nil, ErrSessionInvalid
	}
	if e.config.Session.BindFingerprint {
		fp := fingerprint(ctx)
		if subtle.ConstantTimeCompare(fp[:], sess.FingerprintHash[:]) != 1 {
			e.metricInc(MetricSessionInvalidated)
			return nil, ErrSessionInvalid
		}
	}

	return &AuthResult{
		PrincipalID:     sess.PrincipalID,
		SessionID:       sess.SessionID,
		Method:          sess.Method,
		SecondFactor:    sess.SecondFactorVerified,
		EmergencyBypass: sess.EmergencyBypass,
		ExpiresAt:       time.Unix(sess.ExpiresAt, 0),
	}, nil
}

// Logout removes one session. Unknown or already removed sessions are not an
// error.
func (e *Engine) Logout(ctx context.Context, sessionID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if sessionID == "" {
		return nil
	}

	sess, err := e.sessionStore.Get(ctx, sessionID, e.now())
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil
		}
		return e.backendErr("load session", err)
	}

	removed, err := e.sessionStore.Delete(ctx, sess.PrincipalID, sessionID)
	if err != nil {
		return e.backendErr("delete session", err)
	}
	if removed {
		e.metricInc(MetricLogout)
		e.emitAudit(ctx, auditEventLogoutSession, true, sess.PrincipalID, sessionID, nil, nil)
	}
	return nil
}

// LogoutAll removes every session of a principal.
func (e *Engine) LogoutAll(ctx context.Context, principalID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if principalID == "" {
		return ErrUnknownPrincipal
	}

	n, err := e.sessionStore.DeleteAllForPrincipal(ctx, principalID)
	if err != nil {
		return e.backendErr("delete sessions", err)
	}
	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, principalID, "", nil, func() map[string]string {
		return map[string]string{"sessions": strconv.Itoa(n)}
	})
	return nil
}

// ActiveSessionCount returns how many live sessions a principal holds.
func (e *Engine) ActiveSessionCount(ctx context.Context, principalID string) (int, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	ids, err := e.sessionStore.ActiveSessionIDs(ctx, principalID)
	if err != nil {
		return 0, e.backendErr("list sessions", err)
	}
	return len(ids), nil
}

// HealthStatus is an on-demand backend health result.
type HealthStatus struct {
	RedisAvailable bool
	RedisLatency   time.Duration
	StoreAvailable bool
	StoreLatency   time.Duration
}

// Health pings Redis and the credential store.
func (e *Engine) Health(ctx context.Context) HealthStatus {
	if !e.ready() {
		return HealthStatus{}
	}

	var out HealthStatus
	if d, err := e.sessionStore.Ping(ctx); err == nil {
		out.RedisAvailable = true
		out.RedisLatency = d
	}
	if d, err := e.store.Ping(ctx); err == nil {
		out.StoreAvailable = true
		out.StoreLatency = d
	}
	return out
}

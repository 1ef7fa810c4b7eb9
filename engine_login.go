package goLinkAuth

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/MrEthical07/goLinkAuth/internal/rate"
	"github.com/MrEthical07/goLinkAuth/password"
)

// LoginWithPassword checks identifier and password against the directory's
// argon2id hash and, on success, runs the same second-factor gate as a magic
// link.
//
// Unknown principals, principals without a password and wrong passwords all
// return ErrInvalidCredentials after comparable work.
func (e *Engine) LoginWithPassword(ctx context.Context, identifier, secret string) (*LoginResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if e.passwordHash == nil {
		return nil, ErrEngineNotReady
	}

	identifier = strings.TrimSpace(identifier)
	ip := clientIPFromContext(ctx)

	if err := e.rateLimiter.CheckLogin(ctx, identifier, ip); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.emitRateLimit(ctx, "login", MetricLoginRateLimited)
			return nil, ErrRateLimited
		}
		return nil, e.backendErr("login rate limit", err)
	}

	principal, err := e.directory.ResolvePrincipal(ctx, identifier)
	if err != nil && !errors.Is(err, ErrUnknownPrincipal) {
		return nil, e.backendErr("resolve principal", err)
	}

	hash := e.dummyHash
	if principal != nil && principal.PasswordHash != "" {
		hash = principal.PasswordHash
	}
	ok, verr := e.passwordHash.Verify(secret, hash)
	if verr != nil && !errors.Is(verr, password.ErrPasswordLength) {
		e.logger.Warn("stored password hash rejected", zap.Error(verr))
	}
	if principal == nil || principal.PasswordHash == "" || !ok || verr != nil {
		return nil, e.passwordFailure(ctx, identifier, ip, principal)
	}

	if err := e.rateLimiter.ResetLogin(ctx, identifier); err != nil {
		e.logger.Warn("reset login counter", zap.Error(err))
	}

	e.metricInc(MetricPasswordLoginSuccess)
	e.emitAudit(ctx, auditEventPasswordLoginSuccess, true, principal.ID, "", nil, nil)
	e.rehashPassword(ctx, principal, secret)

	return e.runGate(ctx, principal, methodPassword, "")
}

func (e *Engine) passwordFailure(ctx context.Context, identifier, ip string, principal *Principal) error {
	e.metricInc(MetricPasswordLoginFailure)

	var principalID string
	if principal != nil {
		principalID = principal.ID
	}
	e.emitAudit(ctx, auditEventPasswordLoginFailure, false, principalID, "", ErrInvalidCredentials, nil)

	if err := e.rateLimiter.IncrementLogin(ctx, identifier, ip); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.emitRateLimit(ctx, "login", MetricLoginRateLimited)
			return ErrRateLimited
		}
		e.logger.Error("record failed login", zap.Error(err))
	}
	return ErrInvalidCredentials
}

// rehashPassword replaces a hash made under lower costs than the configured
// ones. Failures are logged; the login itself has already succeeded.
func (e *Engine) rehashPassword(ctx context.Context, principal *Principal, secret string) {
	stale, err := e.passwordHash.NeedsRehash(principal.PasswordHash)
	if err != nil || !stale {
		return
	}
	e.metricInc(MetricPasswordRehashNeeded)

	rehashed := false
	if r, ok := e.directory.(PasswordRehasher); ok {
		hash, err := e.passwordHash.Hash(secret)
		if err == nil {
			err = r.UpdatePasswordHash(ctx, principal.ID, hash)
		}
		if err != nil {
			e.logger.Warn("rehash password", zap.String("principal_id", principal.ID), zap.Error(err))
		} else {
			rehashed = true
		}
	}
	e.emitAudit(ctx, auditEventPasswordRehashNeeded, true, principal.ID, "", nil, func() map[string]string {
		return map[string]string{"rehashed": strconv.FormatBool(rehashed)}
	})
}

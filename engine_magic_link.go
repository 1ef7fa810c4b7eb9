package goLinkAuth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/goLinkAuth/internal/rate"
	"github.com/MrEthical07/goLinkAuth/internal/records"
	"github.com/MrEthical07/goLinkAuth/internal/sqlstore"
)

// RequestMagicLink issues a single-use login link for identifier and hands it
// to the Deliverer.
//
// An identifier that matches no principal and a link the Deliverer failed to
// send both return nil, so the answer never reveals whether an account
// exists. Both are logged, counted and audited.
func (e *Engine) RequestMagicLink(ctx context.Context, identifier, redirect string) error {
	if !e.ready() || e.deliverer == nil {
		return ErrEngineNotReady
	}

	redirect, err := e.cleanRedirect(redirect)
	if err != nil {
		return err
	}
	identifier = strings.TrimSpace(identifier)

	if err := e.rateLimiter.AllowMagicLinkRequest(ctx, identifier, clientIPFromContext(ctx)); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.emitRateLimit(ctx, "magic_link", MetricMagicLinkRateLimited)
			return ErrRateLimited
		}
		return e.backendErr("magic link rate limit", err)
	}

	principal, err := e.directory.ResolvePrincipal(ctx, identifier)
	if err != nil || principal == nil {
		if err == nil || errors.Is(err, ErrUnknownPrincipal) {
			e.metricInc(MetricMagicLinkUnknownPrincipal)
			e.emitAudit(ctx, auditEventMagicLinkUnknownPrincipal, false, "", "", ErrUnknownPrincipal, nil)
			return nil
		}
		return e.backendErr("resolve principal", err)
	}

	raw, tokenHash, err := newMagicLinkToken(e.config.MagicLink.TokenBytes)
	if err != nil {
		return e.backendErr("generate token", err)
	}

	now := e.now()
	if err := e.store.InsertToken(ctx, &records.MagicLinkToken{
		TokenHash:         tokenHash,
		PrincipalID:       principal.ID,
		CreatedAt:         now,
		ExpiresAt:         now.Add(e.config.MagicLink.TokenTTL),
		OriginFingerprint: fingerprintHex(ctx),
		Redirect:          redirect,
	}); err != nil {
		return e.backendErr("insert token", err)
	}

	if n, err := e.store.SweepExpiredTokens(ctx, principal.ID, now); err != nil {
		e.logger.Warn("sweep expired magic links", zap.String("principal_id", principal.ID), zap.Error(err))
	} else if n > 0 {
		e.metrics.Add(MetricMagicLinkSwept, uint64(n))
	}

	if err := e.deliverer.DeliverMagicLink(ctx, *principal, e.magicLinkURL(raw, principal.ID)); err != nil {
		e.logger.Error("magic link delivery failed", zap.String("principal_id", principal.ID), zap.Error(err))
		e.metricInc(MetricMagicLinkDeliveryFailed)
		e.emitAudit(ctx, auditEventMagicLinkDeliveryFailed, false, principal.ID, "", ErrDeliveryFailed, nil)
		return nil
	}

	e.metricInc(MetricMagicLinkRequested)
	e.emitAudit(ctx, auditEventMagicLinkRequested, true, principal.ID, "", nil, func() map[string]string {
		return map[string]string{"expires_at": now.Add(e.config.MagicLink.TokenTTL).UTC().Format(time.RFC3339)}
	})
	return nil
}

// ConsumeMagicLink validates and burns a raw token presented for principalID,
// then runs the second-factor gate.
//
// Every rejection (unknown, forged, expired, reused, or issued to another
// principal) is reported as ErrInvalidOrExpiredToken.
func (e *Engine) ConsumeMagicLink(ctx context.Context, rawToken, principalID string) (*LoginResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	defer e.observeSince(MetricConsumeLatency, start)

	if principalID == "" || !e.wellFormedToken(rawToken) {
		e.rejectMagicLink(ctx, principalID, "malformed")
		return nil, ErrInvalidOrExpiredToken
	}

	redirect, err := e.store.ConsumeToken(ctx, hashToken(rawToken), principalID, e.now())
	if err != nil {
		if errors.Is(err, sqlstore.ErrTokenRejected) {
			e.rejectMagicLink(ctx, principalID, "rejected")
			return nil, ErrInvalidOrExpiredToken
		}
		return nil, e.backendErr("consume token", err)
	}

	principal, err := e.principalByID(ctx, principalID)
	if err != nil {
		if errors.Is(err, ErrUnknownPrincipal) {
			e.rejectMagicLink(ctx, principalID, "principal_gone")
			return nil, ErrInvalidOrExpiredToken
		}
		return nil, err
	}

	e.metricInc(MetricMagicLinkConsumed)
	e.emitAudit(ctx, auditEventMagicLinkConsumed, true, principal.ID, "", nil, nil)

	return e.runGate(ctx, principal, methodMagicLink, redirect)
}

// SweepExpiredTokens deletes expired magic-link tokens of principalID, or of
// every principal when principalID is empty, and returns how many were
// removed. It is safe to run concurrently with consumption.
func (e *Engine) SweepExpiredTokens(ctx context.Context, principalID string) (int64, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}

	n, err := e.store.SweepExpiredTokens(ctx, principalID, e.now())
	if err != nil {
		return 0, e.backendErr("sweep tokens", err)
	}
	if n > 0 {
		e.metrics.Add(MetricMagicLinkSwept, uint64(n))
		e.emitAudit(ctx, auditEventTokensSwept, true, principalID, "", nil, func() map[string]string {
			return map[string]string{"removed": strconv.FormatInt(n, 10)}
		})
	}
	return n, nil
}

func (e *Engine) rejectMagicLink(ctx context.Context, principalID, reason string) {
	e.metricInc(MetricMagicLinkRejected)
	e.emitAudit(ctx, auditEventMagicLinkRejected, false, principalID, "", ErrInvalidOrExpiredToken, func() map[string]string {
		return map[string]string{"reason": reason}
	})
}

func (e *Engine) magicLinkURL(rawToken, principalID string) string {
	u, _ := url.Parse(e.config.MagicLink.BaseURL)
	q := u.Query()
	q.Set("token", rawToken)
	q.Set("pid", principalID)
	u.RawQuery = q.Encode()
	return u.String()
}

// wellFormedToken rejects anything that could not have been issued before
// any hashing or storage work happens.
func (e *Engine) wellFormedToken(raw string) bool {
	if len(raw) != base64.RawURLEncoding.EncodedLen(e.config.MagicLink.TokenBytes) {
		return false
	}
	_, err := base64.RawURLEncoding.DecodeString(raw)
	return err == nil
}

// cleanRedirect accepts only local paths, optionally restricted to the
// configured prefixes.
func (e *Engine) cleanRedirect(redirect string) (string, error) {
	redirect = strings.TrimSpace(redirect)
	if redirect == "" {
		return "", nil
	}
	if !strings.HasPrefix(redirect, "/") ||
		strings.HasPrefix(redirect, "//") ||
		strings.ContainsAny(redirect, "\\\r\n") {
		return "", ErrInvalidRedirect
	}
	u, err := url.Parse(redirect)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "", ErrInvalidRedirect
	}

	allowed := e.config.MagicLink.AllowedRedirects
	if len(allowed) == 0 {
		return redirect, nil
	}
	for _, prefix := range allowed {
		if strings.HasPrefix(u.Path, prefix) {
			return redirect, nil
		}
	}
	return "", ErrInvalidRedirect
}

func newMagicLinkToken(n int) (raw, digest string, err error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	raw = base64.RawURLEncoding.EncodeToString(buf)
	return raw, hashToken(raw), nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/MrEthical07/goLinkAuth/internal/records"
)

// ErrTokenRejected is returned when a token is unknown, expired, used, or
// bound to a different principal. The cases are deliberately merged.
var ErrTokenRejected = errors.New("token rejected")

type tokenRow struct {
	TokenHash         string        `db:"token_hash"`
	PrincipalID       string        `db:"principal_id"`
	CreatedAt         int64         `db:"created_at"`
	ExpiresAt         int64         `db:"expires_at"`
	Used              bool          `db:"used"`
	UsedAt            sql.NullInt64 `db:"used_at"`
	AttemptCount      int           `db:"attempt_count"`
	OriginFingerprint string        `db:"origin_fingerprint"`
	Redirect          string        `db:"redirect"`
}

func (r tokenRow) record() *records.MagicLinkToken {
	return &records.MagicLinkToken{
		TokenHash:         r.TokenHash,
		PrincipalID:       r.PrincipalID,
		CreatedAt:         fromUnix(r.CreatedAt),
		ExpiresAt:         fromUnix(r.ExpiresAt),
		Used:              r.Used,
		UsedAt:            optionalTime(r.UsedAt.Valid, r.UsedAt.Int64),
		AttemptCount:      r.AttemptCount,
		OriginFingerprint: r.OriginFingerprint,
		Redirect:          r.Redirect,
	}
}

// InsertToken stores a freshly issued token digest.
func (s *Store) InsertToken(ctx context.Context, tok *records.MagicLinkToken) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO magic_link_tokens
			(token_hash, principal_id, created_at, expires_at, used, attempt_count, origin_fingerprint, redirect)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)`),
		tok.TokenHash,
		tok.PrincipalID,
		unix(tok.CreatedAt),
		unix(tok.ExpiresAt),
		false,
		tok.OriginFingerprint,
		tok.Redirect,
	)
	if err != nil {
		return backendErr(err)
	}
	return nil
}

// ConsumeToken flips used=true on the row matching tokenHash and principalID
// only if it is still unused and unexpired at now, and returns the stored
// redirect. Exactly one concurrent caller can win. Every losing call bumps
// attempt_count on the row found by digest and returns ErrTokenRejected.
func (s *Store) ConsumeToken(ctx context.Context, tokenHash, principalID string, now time.Time) (string, error) {
	var redirect string
	err := s.db.QueryRowxContext(ctx, s.q(`
		UPDATE magic_link_tokens
		SET used = ?, used_at = ?
		WHERE token_hash = ? AND principal_id = ? AND used = ? AND expires_at > ?
		RETURNING redirect`),
		true,
		unix(now),
		tokenHash,
		principalID,
		false,
		unix(now),
	).Scan(&redirect)
	if err == nil {
		return redirect, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", backendErr(err)
	}

	if _, err := s.db.ExecContext(ctx, s.q(`
		UPDATE magic_link_tokens SET attempt_count = attempt_count + 1 WHERE token_hash = ?`),
		tokenHash,
	); err != nil {
		return "", backendErr(err)
	}
	return "", ErrTokenRejected
}

// TokenByHash loads a token row. Intended for audit tooling and tests.
func (s *Store) TokenByHash(ctx context.Context, tokenHash string) (*records.MagicLinkToken, error) {
	var row tokenRow
	err := s.db.GetContext(ctx, &row, s.q(`
		SELECT token_hash, principal_id, created_at, expires_at, used, used_at, attempt_count, origin_fingerprint, redirect
		FROM magic_link_tokens WHERE token_hash = ?`),
		tokenHash,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, backendErr(err)
	}
	return row.record(), nil
}

// SweepExpiredTokens deletes rows with expires_at <= now. An empty principalID
// sweeps every principal. Returns the number of deleted rows.
func (s *Store) SweepExpiredTokens(ctx context.Context, principalID string, now time.Time) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if principalID == "" {
		res, err = s.db.ExecContext(ctx, s.q(`DELETE FROM magic_link_tokens WHERE expires_at <= ?`), unix(now))
	} else {
		res, err = s.db.ExecContext(ctx, s.q(`DELETE FROM magic_link_tokens WHERE principal_id = ? AND expires_at <= ?`), principalID, unix(now))
	}
	if err != nil {
		return 0, backendErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, backendErr(err)
	}
	return n, nil
}

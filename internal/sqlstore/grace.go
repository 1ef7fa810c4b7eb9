package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/MrEthical07/goLinkAuth/internal/records"
)

type graceRow struct {
	PrincipalID   string `db:"principal_id"`
	RequiredSince int64  `db:"required_since"`
	Notified      bool   `db:"notified"`
}

// EnsureGraceState creates the marker with required_since=now if none exists
// and returns the stored marker. Concurrent callers observe the same start.
func (s *Store) EnsureGraceState(ctx context.Context, principalID string, now time.Time) (*records.GraceState, error) {
	if _, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO grace_states (principal_id, required_since, notified) VALUES (?, ?, ?)
		ON CONFLICT (principal_id) DO NOTHING`),
		principalID,
		unix(now),
		false,
	); err != nil {
		return nil, backendErr(err)
	}
	return s.GraceState(ctx, principalID)
}

// GraceState loads the marker or returns ErrNotFound.
func (s *Store) GraceState(ctx context.Context, principalID string) (*records.GraceState, error) {
	var row graceRow
	err := s.db.GetContext(ctx, &row, s.q(`
		SELECT principal_id, required_since, notified FROM grace_states WHERE principal_id = ?`),
		principalID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, backendErr(err)
	}
	return &records.GraceState{
		PrincipalID:   row.PrincipalID,
		RequiredSince: fromUnix(row.RequiredSince),
		Notified:      row.Notified,
	}, nil
}

// MarkGraceNotified flips notified to true. It reports true only for the
// caller that performed the flip.
func (s *Store) MarkGraceNotified(ctx context.Context, principalID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE grace_states SET notified = ? WHERE principal_id = ? AND notified = ?`),
		true,
		principalID,
		false,
	)
	if err != nil {
		return false, backendErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, backendErr(err)
	}
	return n == 1, nil
}

// DeleteGraceState removes the marker; deleting a missing marker is not an error.
func (s *Store) DeleteGraceState(ctx context.Context, principalID string) error {
	if _, err := s.db.ExecContext(ctx, s.q(`DELETE FROM grace_states WHERE principal_id = ?`), principalID); err != nil {
		return backendErr(err)
	}
	return nil
}

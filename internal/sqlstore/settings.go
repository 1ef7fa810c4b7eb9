package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/MrEthical07/goLinkAuth/internal/records"
)

const emergencyOverrideSetting = "emergency_override"

// SetEmergencyOverride upserts the runtime override flag.
func (s *Store) SetEmergencyOverride(ctx context.Context, enabled bool, updatedBy string, now time.Time) error {
	if _, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO auth_settings (name, enabled, updated_by, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			enabled = excluded.enabled,
			updated_by = excluded.updated_by,
			updated_at = excluded.updated_at`),
		emergencyOverrideSetting,
		enabled,
		updatedBy,
		unix(now),
	); err != nil {
		return backendErr(err)
	}
	return nil
}

// EmergencyOverride returns the runtime override flag. A missing row reads as
// disabled.
func (s *Store) EmergencyOverride(ctx context.Context) (records.OverrideSetting, error) {
	var row struct {
		Enabled   bool   `db:"enabled"`
		UpdatedBy string `db:"updated_by"`
		UpdatedAt int64  `db:"updated_at"`
	}
	err := s.db.GetContext(ctx, &row, s.q(`
		SELECT enabled, updated_by, updated_at FROM auth_settings WHERE name = ?`),
		emergencyOverrideSetting,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return records.OverrideSetting{}, nil
		}
		return records.OverrideSetting{}, backendErr(err)
	}
	return records.OverrideSetting{
		Enabled:   row.Enabled,
		UpdatedBy: row.UpdatedBy,
		UpdatedAt: fromUnix(row.UpdatedAt),
	}, nil
}

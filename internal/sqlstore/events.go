package sqlstore

import (
	"context"
	"encoding/json"

	"github.com/MrEthical07/goLinkAuth/internal/records"
)

type eventRow struct {
	OccurredAt  int64  `db:"occurred_at"`
	EventType   string `db:"event_type"`
	PrincipalID string `db:"principal_id"`
	SessionID   string `db:"session_id"`
	IP          string `db:"ip"`
	Success     bool   `db:"success"`
	ErrorCode   string `db:"error_code"`
	Metadata    string `db:"metadata"`
}

// InsertEvent appends one audit record.
func (s *Store) InsertEvent(ctx context.Context, ev records.AuthEvent) error {
	meta := []byte("{}")
	if len(ev.Metadata) > 0 {
		encoded, err := json.Marshal(ev.Metadata)
		if err != nil {
			return err
		}
		meta = encoded
	}

	if _, err := s.db.NamedExecContext(ctx, `
		INSERT INTO auth_events (occurred_at, event_type, principal_id, session_id, ip, success, error_code, metadata)
		VALUES (:occurred_at, :event_type, :principal_id, :session_id, :ip, :success, :error_code, :metadata)`,
		eventRow{
			OccurredAt:  unix(ev.OccurredAt),
			EventType:   ev.EventType,
			PrincipalID: ev.PrincipalID,
			SessionID:   ev.SessionID,
			IP:          ev.IP,
			Success:     ev.Success,
			ErrorCode:   ev.ErrorCode,
			Metadata:    string(meta),
		},
	); err != nil {
		return backendErr(err)
	}
	return nil
}

// RecentEvents returns up to limit events for a principal, newest first.
func (s *Store) RecentEvents(ctx context.Context, principalID string, limit int) ([]records.AuthEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, s.q(`
		SELECT occurred_at, event_type, principal_id, session_id, ip, success, error_code, metadata
		FROM auth_events WHERE principal_id = ? ORDER BY id DESC LIMIT ?`),
		principalID,
		limit,
	); err != nil {
		return nil, backendErr(err)
	}

	out := make([]records.AuthEvent, 0, len(rows))
	for _, r := range rows {
		ev := records.AuthEvent{
			OccurredAt:  fromUnix(r.OccurredAt),
			EventType:   r.EventType,
			PrincipalID: r.PrincipalID,
			SessionID:   r.SessionID,
			IP:          r.IP,
			Success:     r.Success,
			ErrorCode:   r.ErrorCode,
		}
		if r.Metadata != "" && r.Metadata != "{}" {
			_ = json.Unmarshal([]byte(r.Metadata), &ev.Metadata)
		}
		out = append(out, ev)
	}
	return out, nil
}

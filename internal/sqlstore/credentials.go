package sqlstore

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/MrEthical07/goLinkAuth/internal/records"
)

type credentialRow struct {
	PrincipalID    string         `db:"principal_id"`
	Secret         sql.NullString `db:"secret"`
	Enabled        bool           `db:"enabled"`
	BackupSalt     string         `db:"backup_salt"`
	LastUsedAt     sql.NullInt64  `db:"last_used_at"`
	LastUsedStep   sql.NullInt64  `db:"last_used_step"`
	FailedAttempts int            `db:"failed_attempts"`
	LockedUntil    sql.NullInt64  `db:"locked_until"`
	UpdatedAt      int64          `db:"updated_at"`
}

// Credential loads the principal's second-factor row and its remaining
// backup-code hashes in issue order. Missing rows return ErrNotFound.
func (s *Store) Credential(ctx context.Context, principalID string) (*records.SecondFactorCredential, error) {
	var row credentialRow
	err := s.db.GetContext(ctx, &row, s.q(`
		SELECT principal_id, secret, enabled, backup_salt, last_used_at, last_used_step, failed_attempts, locked_until, updated_at
		FROM second_factor_credentials WHERE principal_id = ?`),
		principalID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, backendErr(err)
	}

	var hashes []string
	if err := s.db.SelectContext(ctx, &hashes, s.q(`
		SELECT code_hash FROM backup_codes WHERE principal_id = ? ORDER BY ordinal`),
		principalID,
	); err != nil {
		return nil, backendErr(err)
	}

	salt, err := hex.DecodeString(row.BackupSalt)
	if err != nil {
		return nil, backendErr(err)
	}

	return &records.SecondFactorCredential{
		PrincipalID:    row.PrincipalID,
		Secret:         row.Secret.String,
		Enabled:        row.Enabled,
		BackupSalt:     salt,
		BackupCodes:    hashes,
		LastUsedAt:     optionalTime(row.LastUsedAt.Valid, row.LastUsedAt.Int64),
		LastUsedStep:   optionalStep(row.LastUsedStep),
		FailedAttempts: row.FailedAttempts,
		LockedUntil:    optionalTime(row.LockedUntil.Valid, row.LockedUntil.Int64),
		UpdatedAt:      fromUnix(row.UpdatedAt),
	}, nil
}

// EnableCredential stores secret and the backup-code hashes for a principal
// whose credential is absent or disabled, and discards any grace marker, in
// one transaction. An already enabled credential yields ErrAlreadyEnabled.
func (s *Store) EnableCredential(ctx context.Context, principalID, secret string, salt []byte, backupHashes []string, now time.Time) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO second_factor_credentials
				(principal_id, secret, enabled, backup_salt, failed_attempts, updated_at)
			VALUES (?, ?, ?, ?, 0, ?)
			ON CONFLICT (principal_id) DO UPDATE SET
				secret = excluded.secret,
				enabled = excluded.enabled,
				backup_salt = excluded.backup_salt,
				last_used_at = NULL,
				last_used_step = NULL,
				failed_attempts = 0,
				locked_until = NULL,
				updated_at = excluded.updated_at
			WHERE second_factor_credentials.enabled = ?`),
			principalID,
			secret,
			true,
			hex.EncodeToString(salt),
			unix(now),
			false,
		)
		if err != nil {
			return backendErr(err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return backendErr(err)
		} else if n == 0 {
			return ErrAlreadyEnabled
		}

		if err := s.replaceBackupCodesTx(ctx, tx, principalID, backupHashes); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM grace_states WHERE principal_id = ?`), principalID); err != nil {
			return backendErr(err)
		}
		return nil
	})
}

// DisableCredential clears the secret, counters and backup codes. A missing
// or already disabled credential yields ErrNotEnabled.
func (s *Store) DisableCredential(ctx context.Context, principalID string, now time.Time) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(`
			UPDATE second_factor_credentials
			SET secret = NULL, enabled = ?, backup_salt = '', last_used_at = NULL, last_used_step = NULL,
				failed_attempts = 0, locked_until = NULL, updated_at = ?
			WHERE principal_id = ? AND enabled = ?`),
			false,
			unix(now),
			principalID,
			true,
		)
		if err != nil {
			return backendErr(err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return backendErr(err)
		} else if n == 0 {
			return ErrNotEnabled
		}
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM backup_codes WHERE principal_id = ?`), principalID); err != nil {
			return backendErr(err)
		}
		return nil
	})
}

// ReplaceBackupCodes swaps the whole backup-code set of an enabled credential.
func (s *Store) ReplaceBackupCodes(ctx context.Context, principalID string, salt []byte, backupHashes []string, now time.Time) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(`
			UPDATE second_factor_credentials SET backup_salt = ?, updated_at = ?
			WHERE principal_id = ? AND enabled = ?`),
			hex.EncodeToString(salt),
			unix(now),
			principalID,
			true,
		)
		if err != nil {
			return backendErr(err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return backendErr(err)
		} else if n == 0 {
			return ErrNotEnabled
		}
		return s.replaceBackupCodesTx(ctx, tx, principalID, backupHashes)
	})
}

// RecordFailure atomically bumps failed_attempts and, when the new count
// reaches threshold, sets locked_until to now+lockFor. A lock that has already
// expired restarts the count at 1. Calls made while the credential is locked
// match no row and return the current lock unchanged.
func (s *Store) RecordFailure(ctx context.Context, principalID string, threshold int, lockFor time.Duration, now time.Time) (records.FailureOutcome, error) {
	var (
		attempts    int
		lockedUntil sql.NullInt64
	)
	err := s.db.QueryRowxContext(ctx, s.q(`
		UPDATE second_factor_credentials SET
			failed_attempts = CASE WHEN locked_until IS NULL THEN failed_attempts + 1 ELSE 1 END,
			locked_until = CASE
				WHEN (CASE WHEN locked_until IS NULL THEN failed_attempts + 1 ELSE 1 END) >= ? THEN CAST(? AS BIGINT)
				ELSE NULL
			END,
			updated_at = ?
		WHERE principal_id = ? AND enabled = ? AND (locked_until IS NULL OR locked_until <= ?)
		RETURNING failed_attempts, locked_until`),
		threshold,
		unix(now.Add(lockFor)),
		unix(now),
		principalID,
		true,
		unix(now),
	).Scan(&attempts, &lockedUntil)
	if err == nil {
		return records.FailureOutcome{
			FailedAttempts: attempts,
			LockedUntil:    optionalTime(lockedUntil.Valid, lockedUntil.Int64),
		}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return records.FailureOutcome{}, backendErr(err)
	}

	cred, err := s.Credential(ctx, principalID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return records.FailureOutcome{}, ErrNotEnabled
		}
		return records.FailureOutcome{}, err
	}
	if !cred.Enabled {
		return records.FailureOutcome{}, ErrNotEnabled
	}
	return records.FailureOutcome{FailedAttempts: cred.FailedAttempts, LockedUntil: cred.LockedUntil}, nil
}

// RecordTOTPSuccess clears the failure state and remembers step as the last
// accepted TOTP step. It matches no row (ErrPrecondition) when the credential
// is locked or disabled, or when a code from step or a later step has
// already been accepted.
func (s *Store) RecordTOTPSuccess(ctx context.Context, principalID string, step uint64, now time.Time) error {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE second_factor_credentials
		SET failed_attempts = 0, locked_until = NULL, last_used_at = ?, last_used_step = ?, updated_at = ?
		WHERE principal_id = ? AND enabled = ?
			AND (locked_until IS NULL OR locked_until <= ?)
			AND (last_used_step IS NULL OR last_used_step < ?)`),
		unix(now),
		int64(step),
		unix(now),
		principalID,
		true,
		unix(now),
		int64(step),
	)
	if err != nil {
		return backendErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return backendErr(err)
	}
	if n == 0 {
		return ErrPrecondition
	}
	return nil
}

// ConsumeBackupCode deletes the matching backup code and clears the failure
// state in one transaction. Only the caller whose DELETE removes the row
// succeeds; a locked or disabled credential never releases a code.
func (s *Store) ConsumeBackupCode(ctx context.Context, principalID, codeHash string, now time.Time) (bool, error) {
	consumed := false
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(`
			DELETE FROM backup_codes
			WHERE principal_id = ? AND code_hash = ?
				AND EXISTS (
					SELECT 1 FROM second_factor_credentials c
					WHERE c.principal_id = ? AND c.enabled = ? AND (c.locked_until IS NULL OR c.locked_until <= ?)
				)`),
			principalID,
			codeHash,
			principalID,
			true,
			unix(now),
		)
		if err != nil {
			return backendErr(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return backendErr(err)
		}
		if n == 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, s.q(`
			UPDATE second_factor_credentials
			SET failed_attempts = 0, locked_until = NULL, last_used_at = ?, updated_at = ?
			WHERE principal_id = ?`),
			unix(now),
			unix(now),
			principalID,
		); err != nil {
			return backendErr(err)
		}
		consumed = true
		return nil
	})
	return consumed, err
}

func (s *Store) replaceBackupCodesTx(ctx context.Context, tx *sqlx.Tx, principalID string, hashes []string) error {
	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM backup_codes WHERE principal_id = ?`), principalID); err != nil {
		return backendErr(err)
	}
	insert := s.q(`INSERT INTO backup_codes (principal_id, ordinal, code_hash) VALUES (?, ?, ?)`)
	for i, h := range hashes {
		if _, err := tx.ExecContext(ctx, insert, principalID, i, h); err != nil {
			return backendErr(err)
		}
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return backendErr(err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return backendErr(err)
	}
	return nil
}

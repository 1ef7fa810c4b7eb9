// Package records holds the typed rows shared by the durable and ephemeral
// stores. It has no behaviour and no dependencies.
package records

import "time"

// MagicLinkToken is one issued link. Only the digest of the raw token is kept.
type MagicLinkToken struct {
	TokenHash         string
	PrincipalID       string
	CreatedAt         time.Time
	ExpiresAt         time.Time
	Used              bool
	UsedAt            *time.Time
	AttemptCount      int
	OriginFingerprint string
	Redirect          string
}

// SecondFactorCredential is the per-principal TOTP state.
type SecondFactorCredential struct {
	PrincipalID    string
	Secret         string
	Enabled        bool
	BackupSalt     []byte
	BackupCodes    []string
	LastUsedAt     *time.Time
	LastUsedStep   *uint64
	FailedAttempts int
	LockedUntil    *time.Time
	UpdatedAt      time.Time
}

// LockedAt reports whether the credential is locked at now and for how long.
func (c *SecondFactorCredential) LockedAt(now time.Time) (time.Duration, bool) {
	if c == nil || c.LockedUntil == nil || !c.LockedUntil.After(now) {
		return 0, false
	}
	return c.LockedUntil.Sub(now), true
}

// FailureOutcome is the state left behind by one recorded failure.
type FailureOutcome struct {
	FailedAttempts int
	LockedUntil    *time.Time
}

// GraceState tracks a principal whose role requires a second factor that is
// not configured yet.
type GraceState struct {
	PrincipalID   string
	RequiredSince time.Time
	Notified      bool
}

// OverrideSetting is the runtime emergency override row.
type OverrideSetting struct {
	Enabled   bool
	UpdatedBy string
	UpdatedAt time.Time
}

// AuthEvent is a persisted audit record.
type AuthEvent struct {
	OccurredAt  time.Time
	EventType   string
	PrincipalID string
	SessionID   string
	IP          string
	Success     bool
	ErrorCode   string
	Metadata    map[string]string
}

// PendingSecondFactor is the ephemeral marker for a login that still owes a
// second factor.
type PendingSecondFactor struct {
	PrincipalID string
	Method      string
	Redirect    string
	ExpiresAt   int64
	Attempts    uint16
}

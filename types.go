package goLinkAuth

import (
	"context"
	"time"

	"github.com/MrEthical07/goLinkAuth/internal/flows"
)

// Principal is an account as seen by the engine. The directory owns it.
type Principal struct {
	ID       string
	Email    string
	Username string
	Roles    []string

	// PasswordHash is an argon2id PHC string. Empty disables password login
	// for the principal.
	PasswordHash string
}

// Directory is the external user directory.
//
// ResolvePrincipal must match email addresses case-insensitively and
// usernames exactly, and return ErrUnknownPrincipal on a miss.
type Directory interface {
	ResolvePrincipal(ctx context.Context, identifier string) (*Principal, error)
	PrincipalByID(ctx context.Context, id string) (*Principal, error)
	CountAdministrators(ctx context.Context) (int, error)
}

// PasswordRehasher is optionally implemented by a Directory that can store
// a new password hash. After a successful password login with a hash made
// under lower argon2id costs, the engine hands it a fresh hash.
type PasswordRehasher interface {
	UpdatePasswordHash(ctx context.Context, principalID, hash string) error
}

// Deliverer sends magic links. An error is logged and audited as
// ErrDeliveryFailed; RequestMagicLink still returns nil to its caller.
type Deliverer interface {
	DeliverMagicLink(ctx context.Context, principal Principal, link string) error
}

// GraceNotifier is optionally implemented by a Deliverer to tell a principal
// once that their second-factor grace period is running.
type GraceNotifier interface {
	NotifyGracePeriod(ctx context.Context, principal Principal, deadline time.Time) error
}

// LoginState is the login state machine position reported in a LoginResult.
type LoginState uint8

const (
	StateUnauthenticated     = LoginState(flows.StateUnauthenticated)
	StateFirstFactorPending  = LoginState(flows.StateFirstFactorPending)
	StateSecondFactorPending = LoginState(flows.StateSecondFactorPending)
	StateAuthenticated       = LoginState(flows.StateAuthenticated)
	StateDenied              = LoginState(flows.StateDenied)
)

func (s LoginState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateFirstFactorPending:
		return "first_factor_pending"
	case StateSecondFactorPending:
		return "second_factor_pending"
	case StateAuthenticated:
		return "authenticated"
	case StateDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// LoginResult is returned by every operation that advances a login.
//
// In StateSecondFactorPending only PendingID and PendingExpiresAt are set;
// the caller routes to the challenge and passes PendingID to
// VerifySecondFactor. In StateAuthenticated Session is set.
type LoginResult struct {
	State       LoginState
	PrincipalID string
	Redirect    string

	PendingID        string
	PendingExpiresAt time.Time

	Session *Session

	// EmergencyBypass is true when the emergency override skipped the
	// second factor.
	EmergencyBypass bool

	// Grace is set when the principal's role requires a second factor that
	// is not configured yet.
	Grace *GraceStatus
}

// Err returns ErrSecondFactorRequired while a challenge is owed, nil otherwise.
func (r *LoginResult) Err() error {
	if r != nil && r.State == StateSecondFactorPending {
		return ErrSecondFactorRequired
	}
	return nil
}

// Session is a finalized login.
type Session struct {
	ID           string
	AccessToken  string
	ExpiresAt    time.Time
	SecondFactor bool
}

// GraceStatus is the countdown surfaced while a grace period runs.
type GraceStatus struct {
	Deadline        time.Time
	Remaining       time.Duration
	SoleAdminBypass bool
}

// SecondFactorSetup is a freshly generated enrollment secret. Nothing is
// persisted until SetupSecondFactor confirms a code derived from it.
type SecondFactorSetup struct {
	Secret          string
	ProvisioningURI string
}

// AuthResult is the validated identity behind an access token.
type AuthResult struct {
	PrincipalID     string
	SessionID       string
	Method          string
	SecondFactor    bool
	EmergencyBypass bool
	ExpiresAt       time.Time
}

// OverrideStatus reports both emergency-override triggers.
type OverrideStatus struct {
	Active     bool
	Deployment bool
	Runtime    bool
	UpdatedBy  string
	UpdatedAt  time.Time
}

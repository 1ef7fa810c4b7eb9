package goLinkAuth

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrInvalidOrExpiredToken covers forged, expired, reused and
	// wrong-principal magic-link tokens without telling them apart.
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")
	// ErrUnknownPrincipal is a directory lookup miss.
	ErrUnknownPrincipal = errors.New("unknown principal")
	// ErrSecondFactorRequired is a control signal: the first factor
	// succeeded and the caller must route to the challenge.
	ErrSecondFactorRequired = errors.New("second factor required")
	// ErrInvalidCode is a rejected TOTP or backup code.
	ErrInvalidCode = errors.New("invalid code")
	// ErrLockedOut matches every *LockedOutError.
	ErrLockedOut = errors.New("second factor locked out")
	// ErrDeliveryFailed is returned when the link could not be delivered.
	ErrDeliveryFailed = errors.New("magic link delivery failed")
	// ErrRoleRequiresSecondFactor blocks disabling a required second factor.
	ErrRoleRequiresSecondFactor = errors.New("role requires a second factor")
	ErrRateLimited              = errors.New("rate limited")
	ErrGracePeriodExpired       = errors.New("second factor grace period expired")
	ErrPendingSessionNotFound   = errors.New("pending second factor session not found")
	ErrSecondFactorNotEnabled   = errors.New("second factor not enabled")
	// ErrSecondFactorAlreadyEnabled is returned by SetupSecondFactor for a
	// principal that already has an enabled credential.
	ErrSecondFactorAlreadyEnabled = errors.New("second factor already enabled")
	ErrNotAdministrator           = errors.New("not an administrator")
	ErrInvalidRedirect            = errors.New("invalid redirect")
	ErrInvalidCredentials         = errors.New("invalid credentials")
	ErrSessionInvalid             = errors.New("session invalid")
	ErrEngineNotReady             = errors.New("engine not initialized")
	ErrBackendUnavailable         = errors.New("authentication backend unavailable")
)

// LockedOutError carries the remaining lockout time. errors.Is(err,
// ErrLockedOut) matches it.
type LockedOutError struct {
	Remaining time.Duration
}

func (e *LockedOutError) Error() string {
	return fmt.Sprintf("second factor locked out for %ds", e.RemainingSeconds())
}

// Is reports whether target is ErrLockedOut.
func (e *LockedOutError) Is(target error) bool {
	return target == ErrLockedOut
}

// RemainingSeconds rounds the remaining lockout up to whole seconds.
func (e *LockedOutError) RemainingSeconds() int64 {
	if e.Remaining <= 0 {
		return 0
	}
	return int64(math.Ceil(e.Remaining.Seconds()))
}

func newLockedOutError(remaining time.Duration) error {
	return &LockedOutError{Remaining: remaining}
}

// PublicMessage maps err to text that is safe to show the caller. It never
// separates token expiry from forgery and never reveals whether a principal
// exists.
func PublicMessage(err error) string {
	var locked *LockedOutError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &locked):
		return fmt.Sprintf("Too many failed attempts. Try again in %d seconds.", locked.RemainingSeconds())
	case errors.Is(err, ErrInvalidOrExpiredToken):
		return "This login link is invalid or has expired."
	case errors.Is(err, ErrUnknownPrincipal),
		errors.Is(err, ErrInvalidCredentials):
		return "Invalid login."
	case errors.Is(err, ErrDeliveryFailed):
		return "We could not send a login link. Please try again."
	case errors.Is(err, ErrSecondFactorRequired):
		return "Enter the code from your authenticator app."
	case errors.Is(err, ErrInvalidCode):
		return "The code is invalid."
	case errors.Is(err, ErrPendingSessionNotFound):
		return "Your login attempt has expired. Please start again."
	case errors.Is(err, ErrRoleRequiresSecondFactor):
		return "Your role requires two-factor authentication."
	case errors.Is(err, ErrGracePeriodExpired):
		return "Two-factor authentication must be configured before continuing."
	case errors.Is(err, ErrRateLimited):
		return "Too many requests. Please wait and try again."
	case errors.Is(err, ErrSecondFactorAlreadyEnabled):
		return "Two-factor authentication is already enabled."
	case errors.Is(err, ErrSecondFactorNotEnabled):
		return "Two-factor authentication is not enabled."
	case errors.Is(err, ErrInvalidRedirect):
		return "Invalid redirect."
	case errors.Is(err, ErrSessionInvalid):
		return "Please log in."
	case errors.Is(err, ErrNotAdministrator):
		return "Not permitted."
	default:
		return "Authentication is temporarily unavailable."
	}
}

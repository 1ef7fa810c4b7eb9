package goLinkAuth

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestLockedOutErrorMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("verify: %w", newLockedOutError(1500*time.Millisecond))

	if !errors.Is(err, ErrLockedOut) {
		t.Fatal("expected errors.Is(ErrLockedOut)")
	}
	var locked *LockedOutError
	if !errors.As(err, &locked) || locked.RemainingSeconds() != 2 {
		t.Fatalf("expected 2 remaining seconds, got %v", locked)
	}
	if got := PublicMessage(err); got != "Too many failed attempts. Try again in 2 seconds." {
		t.Fatalf("unexpected message %q", got)
	}
	if (&LockedOutError{Remaining: -time.Second}).RemainingSeconds() != 0 {
		t.Fatal("negative remaining must clamp to zero")
	}
}

func TestPublicMessageDoesNotLeakCause(t *testing.T) {
	if PublicMessage(ErrUnknownPrincipal) != PublicMessage(ErrInvalidCredentials) {
		t.Fatal("unknown principal must read like bad credentials")
	}
	backend := fmt.Errorf("%w: dial tcp 10.0.0.1:5432: refused", ErrBackendUnavailable)
	if got := PublicMessage(backend); got != "Authentication is temporarily unavailable." {
		t.Fatalf("unexpected message %q", got)
	}
	if PublicMessage(nil) != "" {
		t.Fatal("nil error must map to empty message")
	}
}

func TestAuditErrorCodes(t *testing.T) {
	cases := map[error]AuditErrorCode{
		ErrInvalidOrExpiredToken:                    auditErrInvalidToken,
		newLockedOutError(time.Minute):              auditErrLockedOut,
		fmt.Errorf("x: %w", ErrDeliveryFailed):      auditErrDeliveryFailed,
		fmt.Errorf("%w: db", ErrBackendUnavailable): auditErrUnavailable,
		errors.New("something else"):                auditErrInternal,
	}
	for err, want := range cases {
		if got := auditErrorCode(err); got != want {
			t.Fatalf("%v: expected %q, got %q", err, want, got)
		}
	}
	if auditErrorCode(nil) != "" {
		t.Fatal("nil error must have no code")
	}
}

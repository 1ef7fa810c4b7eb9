package middleware

import (
	"context"
	"net/http"
	"testing"
	"time"
)

const week = 7 * 24 * time.Hour

func TestRequirePrivilegedWithoutRequirement(t *testing.T) {
	f := newFixture(t)
	h := RequirePrivileged(f.engine)(echoPrincipal(t))
	token := f.login(t, "member@example.com", "u-member")

	rec := serve(h, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get(HeaderGraceRemaining) != "" {
		t.Fatal("member must not see a grace countdown")
	}
}

func TestRequirePrivilegedGraceHeaders(t *testing.T) {
	f := newFixture(t)
	h := RequirePrivileged(f.engine)(echoPrincipal(t))
	token := f.login(t, "finance@example.com", "u-finance")

	rec := serve(h, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 during grace, got %d", rec.Code)
	}
	if got := rec.Header().Get(HeaderGraceRemaining); got != "604800" {
		t.Fatalf("expected a full week remaining, got %q", got)
	}
	want := f.clock.Now().Add(week).Format(time.RFC3339)
	if got := rec.Header().Get(HeaderGraceDeadline); got != want {
		t.Fatalf("expected deadline %s, got %s", want, got)
	}
}

func TestRequirePrivilegedGraceExpired(t *testing.T) {
	f := newFixture(t)
	h := RequirePrivileged(f.engine)(echoPrincipal(t))

	if _, err := f.engine.CheckPrivilegedAccess(context.Background(), "u-finance"); err != nil {
		t.Fatalf("start grace: %v", err)
	}
	f.clock.Advance(week - time.Minute)
	token := f.login(t, "finance@example.com", "u-finance")
	f.clock.Advance(2 * time.Minute)

	if rec := serve(h, token); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 after grace expiry, got %d", rec.Code)
	}
	// The expiry revoked the session.
	if rec := serve(h, token); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 on the revoked session, got %d", rec.Code)
	}
}

func TestRequirePrivilegedSoleAdministrator(t *testing.T) {
	f := newFixture(t)
	h := RequirePrivileged(f.engine)(echoPrincipal(t))

	if _, err := f.engine.CheckPrivilegedAccess(context.Background(), "u-admin"); err != nil {
		t.Fatalf("start grace: %v", err)
	}
	f.clock.Advance(week + time.Minute)
	token := f.login(t, "admin@example.com", "u-admin")

	rec := serve(h, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("sole administrator must keep access, got %d", rec.Code)
	}
	if rec.Header().Get(HeaderGraceRemaining) != "" {
		t.Fatal("bypass must not advertise a countdown")
	}
}

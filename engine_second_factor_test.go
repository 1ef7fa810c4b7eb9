package goLinkAuth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/goLinkAuth/internal/sqlstore"
	"github.com/MrEthical07/goLinkAuth/internal/totp"
)

func TestSecondFactorSetup(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	setup, err := h.engine.BeginSecondFactorSetup(ctx, alice.ID)
	if err != nil {
		t.Fatalf("begin setup: %v", err)
	}
	if !strings.HasPrefix(setup.ProvisioningURI, "otpauth://totp/") || !strings.Contains(setup.ProvisioningURI, setup.Secret) {
		t.Fatalf("unexpected provisioning uri %q", setup.ProvisioningURI)
	}

	if _, err := h.engine.SetupSecondFactor(ctx, alice.ID, setup.Secret, h.code(t, setup.Secret, 5)); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}
	if _, err := h.engine.SetupSecondFactor(ctx, alice.ID, "not-base32", h.code(t, setup.Secret, 0)); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode for bad secret, got %v", err)
	}

	codes, err := h.engine.SetupSecondFactor(ctx, alice.ID, setup.Secret, h.code(t, setup.Secret, 0))
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if len(codes) != h.engine.config.SecondFactor.BackupCodeCount {
		t.Fatalf("expected %d backup codes, got %d", h.engine.config.SecondFactor.BackupCodeCount, len(codes))
	}
	for _, c := range codes {
		if !totp.IsValidBackupCodeFormat(c) {
			t.Fatalf("malformed backup code %q", c)
		}
	}

	if _, err := h.engine.BeginSecondFactorSetup(ctx, alice.ID); !errors.Is(err, ErrSecondFactorAlreadyEnabled) {
		t.Fatalf("expected ErrSecondFactorAlreadyEnabled, got %v", err)
	}
	if h.metric(MetricSecondFactorEnabled) != 1 {
		t.Fatal("expected enabled metric")
	}
}

func TestSecondFactorChallengeAndVerify(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	secret, _ := h.enroll(t, alice)

	token := h.requestLink(t, alice, "/reports")
	res, err := h.engine.ConsumeMagicLink(ctx, token, alice.ID)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if res.State != StateSecondFactorPending || res.Session != nil {
		t.Fatalf("expected pending without session, got %s", res.State)
	}
	if !errors.Is(res.Err(), ErrSecondFactorRequired) {
		t.Fatalf("expected ErrSecondFactorRequired control signal, got %v", res.Err())
	}
	if !res.PendingExpiresAt.Equal(h.clock.Now().Add(h.engine.config.SecondFactor.PendingTTL)) {
		t.Fatalf("unexpected pending expiry %v", res.PendingExpiresAt)
	}

	done, err := h.engine.VerifySecondFactor(ctx, res.PendingID, h.code(t, secret, 0))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if done.State != StateAuthenticated || !done.Session.SecondFactor || done.Redirect != "/reports" {
		t.Fatalf("unexpected result: %+v", done)
	}

	auth, err := h.engine.ValidateSession(ctx, done.Session.AccessToken)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !auth.SecondFactor || auth.PrincipalID != alice.ID {
		t.Fatalf("unexpected auth result %+v", auth)
	}

	if _, err := h.engine.VerifySecondFactor(ctx, res.PendingID, h.code(t, secret, 0)); !errors.Is(err, ErrPendingSessionNotFound) {
		t.Fatalf("expected completed pending login to be gone, got %v", err)
	}
}

func TestSecondFactorDriftWindow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	secret, _ := h.enroll(t, alice)
	// Keep the confirming code out of the window.
	h.clock.Advance(3 * totp.Period)

	for _, offset := range []int64{-1, 1} {
		pending := h.pendingLogin(t, alice)
		if _, err := h.engine.VerifySecondFactor(ctx, pending, h.code(t, secret, offset)); err != nil {
			t.Fatalf("offset %d: expected success, got %v", offset, err)
		}
	}
	for _, offset := range []int64{-2, 2} {
		pending := h.pendingLogin(t, alice)
		if _, err := h.engine.VerifySecondFactor(ctx, pending, h.code(t, secret, offset)); !errors.Is(err, ErrInvalidCode) {
			t.Fatalf("offset %d: expected ErrInvalidCode, got %v", offset, err)
		}
	}
}

func TestSecondFactorRejectsReplayedCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	secret, _ := h.enroll(t, alice)
	code := h.code(t, secret, 0)

	if _, err := h.engine.VerifySecondFactor(ctx, h.pendingLogin(t, alice), code); err != nil {
		t.Fatalf("first use: %v", err)
	}
	if _, err := h.engine.VerifySecondFactor(ctx, h.pendingLogin(t, alice), code); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected replay rejection, got %v", err)
	}
	if h.metric(MetricSecondFactorReplayRejected) != 1 {
		t.Fatal("expected replay metric")
	}
}

func TestSecondFactorSetupCodeCannotBeReplayed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	setup, err := h.engine.BeginSecondFactorSetup(ctx, alice.ID)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	code := h.code(t, setup.Secret, 0)
	if _, err := h.engine.SetupSecondFactor(ctx, alice.ID, setup.Secret, code); err != nil {
		t.Fatalf("setup: %v", err)
	}

	if _, err := h.engine.VerifySecondFactor(ctx, h.pendingLogin(t, alice), code); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected setup code replay rejection, got %v", err)
	}
}

func TestBackupCodeSingleUse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, codes := h.enroll(t, alice)

	res, err := h.engine.VerifySecondFactor(ctx, h.pendingLogin(t, alice), codes[0])
	if err != nil || res.State != StateAuthenticated {
		t.Fatalf("backup code login: %v", err)
	}
	if _, err := h.engine.VerifySecondFactor(ctx, h.pendingLogin(t, alice), codes[0]); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected reused backup code rejection, got %v", err)
	}

	dashed := codes[1][:4] + "-" + codes[1][4:]
	if _, err := h.engine.VerifySecondFactor(ctx, h.pendingLogin(t, alice), dashed); err != nil {
		t.Fatalf("other backup codes must remain valid: %v", err)
	}
	if h.metric(MetricBackupCodeUsed) != 2 {
		t.Fatalf("expected 2 backup code uses, got %d", h.metric(MetricBackupCodeUsed))
	}
}

func TestSecondFactorLockoutAndRecovery(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Policy.LockoutThreshold = 3
		c.Policy.LockoutDuration = 10 * time.Minute
		c.SecondFactor.MaxPendingAttempts = 0
	})
	ctx := context.Background()
	secret, _ := h.enroll(t, alice)
	pending := h.pendingLogin(t, alice)
	wrong := h.code(t, secret, 5)

	for i := 0; i < 2; i++ {
		if _, err := h.engine.VerifySecondFactor(ctx, pending, wrong); !errors.Is(err, ErrInvalidCode) {
			t.Fatalf("attempt %d: expected ErrInvalidCode, got %v", i+1, err)
		}
	}
	_, err := h.engine.VerifySecondFactor(ctx, pending, wrong)
	var locked *LockedOutError
	if !errors.As(err, &locked) || !errors.Is(err, ErrLockedOut) {
		t.Fatalf("expected LockedOutError at threshold, got %v", err)
	}
	if locked.RemainingSeconds() != 600 {
		t.Fatalf("expected 600s remaining, got %d", locked.RemainingSeconds())
	}

	h.clock.Advance(time.Minute)
	_, err = h.engine.VerifySecondFactor(ctx, pending, h.code(t, secret, 0))
	if !errors.As(err, &locked) {
		t.Fatalf("correct code during lockout must be rejected, got %v", err)
	}
	if locked.RemainingSeconds() != 540 {
		t.Fatalf("lockout must not be extended, got %ds", locked.RemainingSeconds())
	}

	h.clock.Advance(9 * time.Minute)
	res, err := h.engine.VerifySecondFactor(ctx, h.pendingLogin(t, alice), h.code(t, secret, 0))
	if err != nil || res.State != StateAuthenticated {
		t.Fatalf("expected success after lockout, got %v", err)
	}

	cred, err := h.store.Credential(ctx, alice.ID)
	if err != nil {
		t.Fatalf("load credential: %v", err)
	}
	if cred.FailedAttempts != 0 || cred.LockedUntil != nil {
		t.Fatalf("expected reset failure state, got %d / %v", cred.FailedAttempts, cred.LockedUntil)
	}
}

func TestPendingLoginAttemptCap(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.SecondFactor.MaxPendingAttempts = 2
		c.Policy.LockoutThreshold = 10
	})
	ctx := context.Background()
	secret, _ := h.enroll(t, alice)
	pending := h.pendingLogin(t, alice)

	for i := 0; i < 2; i++ {
		if _, err := h.engine.VerifySecondFactor(ctx, pending, "12345x"); !errors.Is(err, ErrInvalidCode) {
			t.Fatalf("attempt %d: expected ErrInvalidCode, got %v", i+1, err)
		}
	}
	if _, err := h.engine.VerifySecondFactor(ctx, pending, h.code(t, secret, 0)); !errors.Is(err, ErrPendingSessionNotFound) {
		t.Fatalf("expected pending login discarded after cap, got %v", err)
	}
}

func TestPendingLoginExpiresAndCancels(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	secret, _ := h.enroll(t, alice)

	pending := h.pendingLogin(t, alice)
	h.clock.Advance(h.engine.config.SecondFactor.PendingTTL + time.Second)
	if _, err := h.engine.VerifySecondFactor(ctx, pending, h.code(t, secret, 0)); !errors.Is(err, ErrPendingSessionNotFound) {
		t.Fatalf("expected expired pending login, got %v", err)
	}

	pending = h.pendingLogin(t, alice)
	if err := h.engine.CancelPendingLogin(ctx, pending); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := h.engine.CancelPendingLogin(ctx, pending); err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if _, err := h.engine.VerifySecondFactor(ctx, pending, h.code(t, secret, 0)); !errors.Is(err, ErrPendingSessionNotFound) {
		t.Fatalf("expected cancelled pending login, got %v", err)
	}
}

func TestDisableSecondFactor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.enroll(t, erin)
	if err := h.engine.DisableSecondFactor(ctx, erin.ID); !errors.Is(err, ErrRoleRequiresSecondFactor) {
		t.Fatalf("expected ErrRoleRequiresSecondFactor, got %v", err)
	}

	h.enroll(t, alice)
	if err := h.engine.DisableSecondFactor(ctx, alice.ID); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if res := h.login(t, alice); res.State != StateAuthenticated {
		t.Fatalf("expected direct login after disable, got %s", res.State)
	}
	if err := h.engine.DisableSecondFactor(ctx, alice.ID); !errors.Is(err, ErrSecondFactorNotEnabled) {
		t.Fatalf("expected ErrSecondFactorNotEnabled, got %v", err)
	}

	// A disabled credential can be enrolled again.
	h.enroll(t, alice)
}

func TestRegenerateBackupCodes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	secret, old := h.enroll(t, alice)

	if _, err := h.engine.RegenerateBackupCodes(ctx, alice.ID, h.code(t, secret, 4)); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}
	fresh, err := h.engine.RegenerateBackupCodes(ctx, alice.ID, h.code(t, secret, 0))
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}

	if _, err := h.engine.VerifySecondFactor(ctx, h.pendingLogin(t, alice), old[0]); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("old backup codes must be invalid, got %v", err)
	}
	if _, err := h.engine.VerifySecondFactor(ctx, h.pendingLogin(t, alice), fresh[0]); err != nil {
		t.Fatalf("new backup code: %v", err)
	}
	if _, err := h.engine.RegenerateBackupCodes(ctx, bob.ID, "123456"); !errors.Is(err, ErrSecondFactorNotEnabled) {
		t.Fatalf("expected ErrSecondFactorNotEnabled for bob, got %v", err)
	}
}

// A code derived for one step is still accepted seven seconds into the next.
func TestScenarioCodeFromPreviousStep(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	secret, _ := h.enroll(t, alice)

	step := totp.Step(h.clock.Now())
	code, err := totp.DeriveCode(secret, step)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	h.clock.Advance(totp.Period + 7*time.Second)
	if totp.Step(h.clock.Now()) != step+1 {
		t.Fatalf("expected step %d, got %d", step+1, totp.Step(h.clock.Now()))
	}

	res, err := h.engine.VerifySecondFactor(ctx, h.pendingLogin(t, alice), code)
	if err != nil || res.State != StateAuthenticated {
		t.Fatalf("expected success with previous-step code, got %v", err)
	}
}

// Accepting a newer code must not make an older one usable again while it
// is still inside the drift window.
func TestSecondFactorRejectsOlderCodeAfterNewerOne(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	secret, _ := h.enroll(t, alice)
	h.clock.Advance(3 * totp.Period)

	c0 := h.code(t, secret, 0)
	c1 := h.code(t, secret, 1)
	if _, err := h.engine.VerifySecondFactor(ctx, h.pendingLogin(t, alice), c0); err != nil {
		t.Fatalf("current code: %v", err)
	}
	if _, err := h.engine.VerifySecondFactor(ctx, h.pendingLogin(t, alice), c1); err != nil {
		t.Fatalf("next-step code: %v", err)
	}
	if _, err := h.engine.VerifySecondFactor(ctx, h.pendingLogin(t, alice), c0); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected older code rejection, got %v", err)
	}
	if h.metric(MetricSecondFactorReplayRejected) != 1 {
		t.Fatalf("expected 1 replay rejection, got %d", h.metric(MetricSecondFactorReplayRejected))
	}
}

func TestSetupSecondFactorUnknownPrincipal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	secret, err := totp.GenerateSecret()
	if err != nil {
		t.Fatalf("generate secret: %v", err)
	}
	if _, err := h.engine.SetupSecondFactor(ctx, "u-ghost", secret, h.code(t, secret, 0)); !errors.Is(err, ErrUnknownPrincipal) {
		t.Fatalf("expected ErrUnknownPrincipal, got %v", err)
	}
	if _, err := h.store.Credential(ctx, "u-ghost"); !errors.Is(err, sqlstore.ErrNotFound) {
		t.Fatalf("no credential may be stored for an unknown principal, got %v", err)
	}
}

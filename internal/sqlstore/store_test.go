package sqlstore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/goLinkAuth/internal/records"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.MigrateUp(context.Background()))
	return s
}

func issueToken(t *testing.T, s *Store, hash, principalID string, now time.Time, ttl time.Duration) {
	t.Helper()
	require.NoError(t, s.InsertToken(context.Background(), &records.MagicLinkToken{
		TokenHash:         hash,
		PrincipalID:       principalID,
		CreatedAt:         now,
		ExpiresAt:         now.Add(ttl),
		OriginFingerprint: "fp",
		Redirect:          "/dashboard",
	}))
}

func TestMigrationsAreIdempotentAndVersioned(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.MigrateUp(ctx))
	version, dirty, err := s.MigrationVersion(ctx)
	require.NoError(t, err)
	require.Equal(t, uint(1), version)
	require.False(t, dirty)
}

func TestConsumeTokenSingleUse(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	issueToken(t, s, "h1", "p1", now, 15*time.Minute)

	redirect, err := s.ConsumeToken(ctx, "h1", "p1", now.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, "/dashboard", redirect)

	_, err = s.ConsumeToken(ctx, "h1", "p1", now.Add(2*time.Minute))
	require.ErrorIs(t, err, ErrTokenRejected)

	tok, err := s.TokenByHash(ctx, "h1")
	require.NoError(t, err)
	require.True(t, tok.Used)
	require.NotNil(t, tok.UsedAt)
	require.Equal(t, 1, tok.AttemptCount)
}

func TestConsumeTokenExpiryBoundary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	issueToken(t, s, "h1", "p1", now, 15*time.Minute)

	_, err := s.ConsumeToken(ctx, "h1", "p1", now.Add(15*time.Minute+time.Second))
	require.ErrorIs(t, err, ErrTokenRejected)

	tok, err := s.TokenByHash(ctx, "h1")
	require.NoError(t, err)
	require.False(t, tok.Used, "expired token must not be marked used")
	require.Equal(t, 1, tok.AttemptCount)
}

func TestConsumeTokenWrongPrincipalCountsAttempt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	issueToken(t, s, "h1", "p1", now, time.Minute)

	_, err := s.ConsumeToken(ctx, "h1", "p2", now)
	require.ErrorIs(t, err, ErrTokenRejected)
	_, err = s.ConsumeToken(ctx, "unknown", "p1", now)
	require.ErrorIs(t, err, ErrTokenRejected)

	tok, err := s.TokenByHash(ctx, "h1")
	require.NoError(t, err)
	require.False(t, tok.Used)
	require.Equal(t, 1, tok.AttemptCount)

	_, err = s.ConsumeToken(ctx, "h1", "p1", now)
	require.NoError(t, err)
}

func TestConsumeTokenConcurrentSingleWinner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	issueToken(t, s, "race", "p1", now, time.Minute)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ConsumeToken(ctx, "race", "p1", now); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), wins.Load())
}

func TestSweepExpiredTokens(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	issueToken(t, s, "old-p1", "p1", now.Add(-time.Hour), time.Minute)
	issueToken(t, s, "old-p2", "p2", now.Add(-time.Hour), time.Minute)
	issueToken(t, s, "live-p1", "p1", now, time.Hour)

	n, err := s.SweepExpiredTokens(ctx, "p1", now)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	n, err = s.SweepExpiredTokens(ctx, "", now)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	n, err = s.SweepExpiredTokens(ctx, "", now)
	require.NoError(t, err)
	require.Zero(t, n)

	_, err = s.TokenByHash(ctx, "live-p1")
	require.NoError(t, err)
}

func TestCredentialLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	_, err := s.Credential(ctx, "p1")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.EnsureGraceState(ctx, "p1", now)
	require.NoError(t, err)

	require.NoError(t, s.EnableCredential(ctx, "p1", "SECRET", []byte{1, 2}, []string{"a", "b", "c"}, now))
	require.ErrorIs(t, s.EnableCredential(ctx, "p1", "OTHER", []byte{3}, nil, now), ErrAlreadyEnabled)

	cred, err := s.Credential(ctx, "p1")
	require.NoError(t, err)
	require.True(t, cred.Enabled)
	require.Equal(t, "SECRET", cred.Secret)
	require.Equal(t, []byte{1, 2}, cred.BackupSalt)
	require.Equal(t, []string{"a", "b", "c"}, cred.BackupCodes)

	_, err = s.GraceState(ctx, "p1")
	require.ErrorIs(t, err, ErrNotFound, "enabling discards the grace marker")

	require.NoError(t, s.DisableCredential(ctx, "p1", now))
	require.ErrorIs(t, s.DisableCredential(ctx, "p1", now), ErrNotEnabled)

	cred, err = s.Credential(ctx, "p1")
	require.NoError(t, err)
	require.False(t, cred.Enabled)
	require.Empty(t, cred.Secret)
	require.Empty(t, cred.BackupCodes)

	require.NoError(t, s.EnableCredential(ctx, "p1", "AGAIN", []byte{9}, []string{"z"}, now))
}

func TestRecordFailureLocksAtThreshold(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	require.NoError(t, s.EnableCredential(ctx, "p1", "SECRET", []byte{1}, nil, now))

	for i := 1; i <= 2; i++ {
		out, err := s.RecordFailure(ctx, "p1", 3, 15*time.Minute, now)
		require.NoError(t, err)
		require.Equal(t, i, out.FailedAttempts)
		require.Nil(t, out.LockedUntil)
	}

	out, err := s.RecordFailure(ctx, "p1", 3, 15*time.Minute, now)
	require.NoError(t, err)
	require.Equal(t, 3, out.FailedAttempts)
	require.NotNil(t, out.LockedUntil)
	require.Equal(t, now.Add(15*time.Minute).Unix(), out.LockedUntil.Unix())

	later := now.Add(5 * time.Minute)
	out, err = s.RecordFailure(ctx, "p1", 3, 15*time.Minute, later)
	require.NoError(t, err)
	require.Equal(t, now.Add(15*time.Minute).Unix(), out.LockedUntil.Unix(), "lock must not be extended")

	err = s.RecordTOTPSuccess(ctx, "p1", 100, later)
	require.ErrorIs(t, err, ErrPrecondition)

	afterLock := now.Add(16 * time.Minute)
	require.NoError(t, s.RecordTOTPSuccess(ctx, "p1", 100, afterLock))
	cred, err := s.Credential(ctx, "p1")
	require.NoError(t, err)
	require.Zero(t, cred.FailedAttempts)
	require.Nil(t, cred.LockedUntil)
}

func TestRecordFailureAfterExpiredLockRestartsCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	require.NoError(t, s.EnableCredential(ctx, "p1", "SECRET", []byte{1}, nil, now))

	_, err := s.RecordFailure(ctx, "p1", 1, time.Minute, now)
	require.NoError(t, err)

	out, err := s.RecordFailure(ctx, "p1", 2, time.Minute, now.Add(2*time.Minute))
	require.NoError(t, err)
	require.Equal(t, 1, out.FailedAttempts)
	require.Nil(t, out.LockedUntil)
}

func TestRecordFailureWithoutCredential(t *testing.T) {
	s := newTestStore(t)
	_, err := s.RecordFailure(context.Background(), "ghost", 3, time.Minute, time.Now())
	require.ErrorIs(t, err, ErrNotEnabled)
}

func TestRecordFailureConcurrentLocksOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	require.NoError(t, s.EnableCredential(ctx, "p1", "SECRET", []byte{1}, nil, now))

	const threshold = 5
	outcomes := make([]records.FailureOutcome, 20)
	errs := make([]error, len(outcomes))
	var wg sync.WaitGroup
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = s.RecordFailure(ctx, "p1", threshold, 15*time.Minute, now)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	counts := make(map[int]int)
	locks := make(map[int64]struct{})
	for _, out := range outcomes {
		counts[out.FailedAttempts]++
		if out.LockedUntil != nil {
			locks[out.LockedUntil.Unix()] = struct{}{}
		}
	}
	for n := 1; n < threshold; n++ {
		require.Equal(t, 1, counts[n], "attempt %d observed once", n)
	}
	require.Equal(t, len(outcomes)-threshold+1, counts[threshold])
	require.Len(t, locks, 1)
	require.Contains(t, locks, now.Add(15*time.Minute).Unix())

	cred, err := s.Credential(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, threshold, cred.FailedAttempts)
	require.NotNil(t, cred.LockedUntil)
	require.Equal(t, now.Add(15*time.Minute).Unix(), cred.LockedUntil.Unix())
}

func TestRecordTOTPSuccessRejectsStepsAtOrBeforeLastAccepted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	require.NoError(t, s.EnableCredential(ctx, "p1", "SECRET", []byte{1}, nil, now))

	require.NoError(t, s.RecordTOTPSuccess(ctx, "p1", 100, now))
	require.ErrorIs(t, s.RecordTOTPSuccess(ctx, "p1", 100, now.Add(30*time.Second)), ErrPrecondition)
	require.NoError(t, s.RecordTOTPSuccess(ctx, "p1", 101, now.Add(30*time.Second)))
	// Step 100 stays spent once a later step has been accepted.
	require.ErrorIs(t, s.RecordTOTPSuccess(ctx, "p1", 100, now.Add(30*time.Second)), ErrPrecondition)

	cred, err := s.Credential(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, cred.LastUsedStep)
	require.Equal(t, uint64(101), *cred.LastUsedStep)

	require.NoError(t, s.DisableCredential(ctx, "p1", now))
	require.NoError(t, s.EnableCredential(ctx, "p1", "AGAIN", []byte{2}, nil, now))
	cred, err = s.Credential(ctx, "p1")
	require.NoError(t, err)
	require.Nil(t, cred.LastUsedStep, "re-enrolment forgets the old step")
	require.NoError(t, s.RecordTOTPSuccess(ctx, "p1", 50, now))
}

func TestConsumeBackupCodeOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	require.NoError(t, s.EnableCredential(ctx, "p1", "SECRET", []byte{1}, []string{"h1", "h2"}, now))
	_, err := s.RecordFailure(ctx, "p1", 5, time.Minute, now)
	require.NoError(t, err)

	ok, err := s.ConsumeBackupCode(ctx, "p1", "h1", now)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.ConsumeBackupCode(ctx, "p1", "h1", now)
	require.NoError(t, err)
	require.False(t, ok)

	cred, err := s.Credential(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, []string{"h2"}, cred.BackupCodes)
	require.Zero(t, cred.FailedAttempts)
}

func TestConsumeBackupCodeRefusedWhileLocked(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	require.NoError(t, s.EnableCredential(ctx, "p1", "SECRET", []byte{1}, []string{"h1"}, now))
	_, err := s.RecordFailure(ctx, "p1", 1, time.Minute, now)
	require.NoError(t, err)

	ok, err := s.ConsumeBackupCode(ctx, "p1", "h1", now)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReplaceBackupCodes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	require.ErrorIs(t, s.ReplaceBackupCodes(ctx, "p1", []byte{1}, []string{"x"}, now), ErrNotEnabled)

	require.NoError(t, s.EnableCredential(ctx, "p1", "SECRET", []byte{1}, []string{"a"}, now))
	require.NoError(t, s.ReplaceBackupCodes(ctx, "p1", []byte{7}, []string{"x", "y"}, now))

	cred, err := s.Credential(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, []byte{7}, cred.BackupSalt)
	require.Equal(t, []string{"x", "y"}, cred.BackupCodes)
}

func TestGraceStateEnsureAndNotify(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := time.Unix(1_700_000_000, 0)

	gs, err := s.EnsureGraceState(ctx, "p1", start)
	require.NoError(t, err)
	require.Equal(t, start.Unix(), gs.RequiredSince.Unix())

	gs, err = s.EnsureGraceState(ctx, "p1", start.Add(24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, start.Unix(), gs.RequiredSince.Unix(), "existing marker keeps its start")

	won, err := s.MarkGraceNotified(ctx, "p1")
	require.NoError(t, err)
	require.True(t, won)
	won, err = s.MarkGraceNotified(ctx, "p1")
	require.NoError(t, err)
	require.False(t, won)

	require.NoError(t, s.DeleteGraceState(ctx, "p1"))
	require.NoError(t, s.DeleteGraceState(ctx, "p1"))
	_, err = s.GraceState(ctx, "p1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestEmergencyOverrideSetting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.EmergencyOverride(ctx)
	require.NoError(t, err)
	require.False(t, got.Enabled)

	now := time.Unix(1_700_000_000, 0)
	require.NoError(t, s.SetEmergencyOverride(ctx, true, "admin-1", now))
	got, err = s.EmergencyOverride(ctx)
	require.NoError(t, err)
	require.True(t, got.Enabled)
	require.Equal(t, "admin-1", got.UpdatedBy)

	require.NoError(t, s.SetEmergencyOverride(ctx, false, "admin-2", now))
	got, err = s.EmergencyOverride(ctx)
	require.NoError(t, err)
	require.False(t, got.Enabled)
}

func TestEventsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertEvent(ctx, records.AuthEvent{
		OccurredAt:  time.Unix(1_700_000_000, 0),
		EventType:   "magic_link_consumed",
		PrincipalID: "p1",
		Success:     true,
		Metadata:    map[string]string{"method": "magic_link"},
	}))
	require.NoError(t, s.InsertEvent(ctx, records.AuthEvent{
		OccurredAt:  time.Unix(1_700_000_100, 0),
		EventType:   "second_factor_failed",
		PrincipalID: "p1",
		ErrorCode:   "invalid_code",
	}))

	events, err := s.RecentEvents(ctx, "p1", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "second_factor_failed", events[0].EventType)
	require.Equal(t, "magic_link", events[1].Metadata["method"])
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "dsn")
	require.ErrorIs(t, err, ErrUnsupportedDriver)
}

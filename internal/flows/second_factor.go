package flows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/goLinkAuth/internal/records"
)

// SecondFactorResult is the outcome of a successful verification.
type SecondFactorResult struct {
	State          State
	PrincipalID    string
	Redirect       string
	Session        *FinalizedSession
	UsedBackupCode bool
}

type SecondFactorMetrics struct {
	Success        int
	Failure        int
	LockedOut      int
	BackupCodeUsed int
	ReplayRejected int
}

type SecondFactorEvents struct {
	Success          string
	Failure          string
	LockedOut        string
	AttemptsExceeded string
}

type SecondFactorErrors struct {
	EngineNotReady         error
	PendingNotFound        error
	InvalidCode            error
	NotEnabled             error
	BackendUnavailable     error
	NewLockedOut           func(remaining time.Duration) error
	IsPendingNotFound      func(error) bool
	IsCredentialNotFound   func(error) bool
	IsPreconditionConflict func(error) bool
}

type SecondFactorDeps struct {
	Now                func() time.Time
	Drift              uint
	LockoutThreshold   int
	LockoutDuration    time.Duration
	MaxPendingAttempts int

	GetPending           func(context.Context, string, time.Time) (*records.PendingSecondFactor, error)
	TakePending          func(context.Context, string, time.Time) (*records.PendingSecondFactor, error)
	RecordPendingFailure func(context.Context, string, int, time.Time) (bool, error)

	LoadCredential    func(context.Context, string) (*records.SecondFactorCredential, error)
	RecordFailure     func(context.Context, string, int, time.Duration, time.Time) (records.FailureOutcome, error)
	RecordTOTPSuccess func(context.Context, string, uint64, time.Time) error
	ConsumeBackupCode func(context.Context, string, string, time.Time) (bool, error)

	IsCodeFormat       func(string) bool
	IsBackupCodeFormat func(string) bool
	NormalizeBackup    func(string) string
	MatchCode          func(candidate, secret string, now time.Time, drift uint) (uint64, bool)
	HashBackupCode     func(code string, salt []byte) string

	FinalizeSession func(context.Context, FinalizeRequest) (*FinalizedSession, error)

	MetricInc func(int)
	EmitAudit AuditFunc

	Metrics SecondFactorMetrics
	Events  SecondFactorEvents
	Errors  SecondFactorErrors
}

// RunVerifySecondFactor checks a TOTP or backup code against the credential
// of the principal bound to pendingID and finalizes the session on success.
//
// A locked credential rejects the attempt without looking at the code and
// without extending the lock. Malformed input counts as a failed attempt but
// never reaches the cryptographic checks.
func RunVerifySecondFactor(ctx context.Context, pendingID, code string, deps SecondFactorDeps) (*SecondFactorResult, error) {
	normalizeSecondFactorDeps(&deps)

	if deps.GetPending == nil ||
		deps.TakePending == nil ||
		deps.LoadCredential == nil ||
		deps.RecordFailure == nil ||
		deps.RecordTOTPSuccess == nil ||
		deps.ConsumeBackupCode == nil ||
		deps.MatchCode == nil ||
		deps.HashBackupCode == nil ||
		deps.FinalizeSession == nil {
		return nil, deps.Errors.EngineNotReady
	}
	if pendingID == "" {
		return nil, deps.Errors.PendingNotFound
	}

	now := deps.Now()

	pending, err := deps.GetPending(ctx, pendingID, now)
	if err != nil {
		if deps.Errors.IsPendingNotFound(err) {
			return nil, deps.Errors.PendingNotFound
		}
		return nil, fmt.Errorf("%w: %v", deps.Errors.BackendUnavailable, err)
	}
	pid := pending.PrincipalID

	cred, err := deps.LoadCredential(ctx, pid)
	if err != nil && !deps.Errors.IsCredentialNotFound(err) {
		return nil, fmt.Errorf("%w: %v", deps.Errors.BackendUnavailable, err)
	}
	if cred == nil || !cred.Enabled {
		_, _ = deps.TakePending(ctx, pendingID, now)
		return nil, deps.Errors.NotEnabled
	}

	if remaining, locked := cred.LockedAt(now); locked {
		deps.MetricInc(deps.Metrics.LockedOut)
		lockErr := deps.Errors.NewLockedOut(remaining)
		deps.EmitAudit(ctx, deps.Events.LockedOut, false, pid, "", lockErr, nil)
		return nil, lockErr
	}

	code = strings.TrimSpace(code)
	var (
		accepted   bool
		usedBackup bool
	)
	switch {
	case deps.IsCodeFormat(code):
		if step, ok := deps.MatchCode(code, cred.Secret, now, deps.Drift); ok {
			err := deps.RecordTOTPSuccess(ctx, pid, step, now)
			switch {
			case err == nil:
				accepted = true
			case deps.Errors.IsPreconditionConflict(err):
				deps.MetricInc(deps.Metrics.ReplayRejected)
			default:
				return nil, fmt.Errorf("%w: %v", deps.Errors.BackendUnavailable, err)
			}
		}
	case deps.IsBackupCodeFormat(deps.NormalizeBackup(code)):
		hash := deps.HashBackupCode(deps.NormalizeBackup(code), cred.BackupSalt)
		ok, err := deps.ConsumeBackupCode(ctx, pid, hash, now)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", deps.Errors.BackendUnavailable, err)
		}
		accepted = ok
		usedBackup = ok
	}

	if !accepted {
		return nil, recordSecondFactorFailure(ctx, pendingID, pid, now, deps)
	}

	if _, err := deps.TakePending(ctx, pendingID, now); err != nil {
		if deps.Errors.IsPendingNotFound(err) {
			return nil, deps.Errors.PendingNotFound
		}
		return nil, fmt.Errorf("%w: %v", deps.Errors.BackendUnavailable, err)
	}

	sess, err := deps.FinalizeSession(ctx, FinalizeRequest{
		PrincipalID:  pid,
		Method:       pending.Method,
		Redirect:     pending.Redirect,
		SecondFactor: true,
	})
	if err != nil {
		return nil, err
	}

	if usedBackup {
		deps.MetricInc(deps.Metrics.BackupCodeUsed)
	}
	deps.MetricInc(deps.Metrics.Success)
	deps.EmitAudit(ctx, deps.Events.Success, true, pid, sess.SessionID, nil, func() map[string]string {
		if usedBackup {
			return map[string]string{"factor": "backup_code"}
		}
		return map[string]string{"factor": "totp"}
	})

	return &SecondFactorResult{
		State:          StateAuthenticated,
		PrincipalID:    pid,
		Redirect:       pending.Redirect,
		Session:        sess,
		UsedBackupCode: usedBackup,
	}, nil
}

func recordSecondFactorFailure(ctx context.Context, pendingID, pid string, now time.Time, deps SecondFactorDeps) error {
	deps.MetricInc(deps.Metrics.Failure)

	outcome, err := deps.RecordFailure(ctx, pid, deps.LockoutThreshold, deps.LockoutDuration, now)
	if err != nil {
		return fmt.Errorf("%w: %v", deps.Errors.BackendUnavailable, err)
	}

	if deps.RecordPendingFailure != nil && deps.MaxPendingAttempts > 0 {
		exceeded, err := deps.RecordPendingFailure(ctx, pendingID, deps.MaxPendingAttempts, now)
		if err != nil && !deps.Errors.IsPendingNotFound(err) {
			return fmt.Errorf("%w: %v", deps.Errors.BackendUnavailable, err)
		}
		if exceeded {
			deps.EmitAudit(ctx, deps.Events.AttemptsExceeded, false, pid, "", deps.Errors.PendingNotFound, nil)
		}
	}

	if outcome.LockedUntil != nil && outcome.LockedUntil.After(now) {
		deps.MetricInc(deps.Metrics.LockedOut)
		lockErr := deps.Errors.NewLockedOut(outcome.LockedUntil.Sub(now))
		deps.EmitAudit(ctx, deps.Events.LockedOut, false, pid, "", lockErr, func() map[string]string {
			return map[string]string{"failed_attempts": fmt.Sprint(outcome.FailedAttempts)}
		})
		return lockErr
	}

	deps.EmitAudit(ctx, deps.Events.Failure, false, pid, "", deps.Errors.InvalidCode, nil)
	return deps.Errors.InvalidCode
}

func normalizeSecondFactorDeps(deps *SecondFactorDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.IsCodeFormat == nil {
		deps.IsCodeFormat = func(string) bool { return false }
	}
	if deps.IsBackupCodeFormat == nil {
		deps.IsBackupCodeFormat = func(string) bool { return false }
	}
	if deps.NormalizeBackup == nil {
		deps.NormalizeBackup = func(s string) string { return s }
	}
	if deps.Errors.NewLockedOut == nil {
		deps.Errors.NewLockedOut = func(time.Duration) error { return errors.New("locked out") }
	}
	if deps.Errors.IsPendingNotFound == nil {
		deps.Errors.IsPendingNotFound = func(error) bool { return false }
	}
	if deps.Errors.IsCredentialNotFound == nil {
		deps.Errors.IsCredentialNotFound = func(error) bool { return false }
	}
	if deps.Errors.IsPreconditionConflict == nil {
		deps.Errors.IsPreconditionConflict = func(error) bool { return false }
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopAudit
	}
}

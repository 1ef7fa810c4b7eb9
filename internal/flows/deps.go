package flows

import (
	"context"
	"time"
)

// State is a login state machine position.
type State uint8

const (
	StateUnauthenticated State = iota
	StateFirstFactorPending
	StateSecondFactorPending
	StateAuthenticated
	StateDenied
)

// Deps groups flow dependency sets. The root engine builds this once and
// delegates request methods to the matching flow implementation.
type Deps struct {
	Gate         GateDeps
	SecondFactor SecondFactorDeps
	Grace        GraceDeps
}

// FinalizeRequest describes a session about to be issued.
type FinalizeRequest struct {
	PrincipalID     string
	Method          string
	Redirect        string
	SecondFactor    bool
	EmergencyBypass bool
}

// FinalizedSession is the flow-local view of an issued session.
type FinalizedSession struct {
	SessionID   string
	AccessToken string
	ExpiresAt   time.Time
}

// AuditFunc emits one audit event. metadata is evaluated lazily.
type AuditFunc func(ctx context.Context, event string, success bool, principalID, sessionID string, err error, metadata func() map[string]string)

func noopAudit(context.Context, string, bool, string, string, error, func() map[string]string) {}

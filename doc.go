// Package goLinkAuth is a passwordless authentication core: single-use
// emailed login links, an optional TOTP second factor enforced per role, and
// the login state machine that decides between them.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// goLinkAuth is the public surface. It exposes [Engine], [Builder], [Config]
// and value types ([LoginResult], [Session], [GraceStatus], MetricsSnapshot).
// Flow orchestration, credential persistence, pending markers, rate limiting
// and audit dispatch live under internal/ and are never exported.
//
// Durable state (tokens, credentials, grace states, the runtime override) is
// kept in SQL and every race on it is settled by a conditional update.
// Ephemeral state (pending second-factor logins, sessions, throttles) is kept
// in Redis with TTLs.
//
// # What this package must NOT do
//
//   - Store a raw magic-link token, a backup code, or anything that separates
//     an expired token from a forged one in its errors.
//   - Reveal whether an identifier matches a principal.
//   - Run background goroutines other than the audit dispatcher.
//   - Import any sub-package that re-imports goLinkAuth (no import cycles).
package goLinkAuth

// Package session provides Redis-backed session persistence for principals
// that completed every required factor.
//
// # Binary encoding
//
// Sessions are stored as a compact versioned binary record. Decoding rejects
// unknown versions rather than guessing.
//
// # Architecture boundaries
//
// This package owns the [Store] and the [Session] model. It does NOT sign
// tokens or decide whether a principal may log in; the Engine does.
//
// # What this package must NOT do
//
//   - Import goLinkAuth or jwt.
//   - Store pending second-factor state (see internal/stores).
//   - Store plaintext client metadata; only fingerprint digests.
package session

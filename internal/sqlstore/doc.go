// Package sqlstore is the durable credential store: magic-link tokens,
// second-factor credentials and backup codes, grace-period markers, the
// runtime emergency-override setting and persisted audit events.
//
// # Design
//
// Every race-sensitive transition is a single conditional statement whose
// WHERE clause carries the precondition ("still unused", "not locked",
// "code still present"). The statement that changes a row is the winner;
// callers never read-then-write.
//
// Times are unix seconds in BIGINT columns so one query text serves both
// Postgres (lib/pq) and SQLite (modernc.org/sqlite). Placeholders are written
// as "?" and rebound per driver.
//
// # What this package must NOT do
//
//   - Hold ephemeral login state (pending second factors live in Redis).
//   - Store raw magic-link tokens, TOTP codes or plaintext backup codes.
//   - Import goLinkAuth.
package sqlstore

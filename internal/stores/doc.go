// Package stores provides the Redis-backed ephemeral store for logins that
// still owe a second factor.
//
// # Design
//
// A pending marker is a versioned, binary-encoded record under
// "<prefix>:<id>" with a TTL equal to the login completion window. Attempt
// counting uses WATCH/MULTI optimistic transactions with a bounded retry on
// contention. Completion takes the record with GETDEL so exactly one caller
// can finalize a given marker.
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control for pending markers.
// It does NOT verify codes, count second-factor lockouts (those are durable
// and live in internal/sqlstore), or decide state transitions.
//
// # What this package must NOT do
//
//   - Import goLinkAuth or any sibling internal package except records.
//   - Write pending markers anywhere other than Redis.
package stores

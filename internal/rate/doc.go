// Package rate provides Redis-backed fixed-window throttles for the public
// entry points: magic-link requests and password logins.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Key prefixes:
//   - lmr:  magic-link requests per identifier
//   - lmri: magic-link requests per IP
//   - ll:   failed password logins per identifier
//   - lli:  failed password logins per IP
//
// Identifiers are lower-cased before keying so "Alice@x" and "alice@x" share
// a budget.
//
// # What this package must NOT do
//
//   - Decide lockout of second-factor credentials (that is durable state in internal/sqlstore).
//   - Reveal whether an identifier belongs to a known principal.
package rate

// Package totp implements the stateless second-factor primitives: shared
// secret generation, RFC 6238 code derivation, constant-time verification
// with a drift window, and one-time backup codes.
//
// # Design
//
// Every function is pure apart from reading crypto/rand. Nothing here logs,
// touches storage, or reports which drift offset matched a code.
//
// # What this package must NOT do
//
//   - Persist secrets or plaintext backup codes.
//   - Import goLinkAuth or any store package.
package totp

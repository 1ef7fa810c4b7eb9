// Package middleware adapts goLinkAuth.Engine checks to net/http.
//
// # Guards
//
//   - [RequireSession] validates the bearer token against the session store.
//   - [RequirePrivileged] additionally enforces the second-factor grace period
//     for roles that require one.
//
// Both guards attach the client IP and User-Agent to the request context so
// fingerprint-bound sessions validate against the same origin they were
// issued to. The validated [goLinkAuth.AuthResult] is available to handlers
// through [AuthResultFromContext].
//
// Every authentication decision is delegated to the Engine. This package only
// translates results into HTTP status codes and headers.
package middleware

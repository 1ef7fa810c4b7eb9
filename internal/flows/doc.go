// Package flows contains the login state machine as pure orchestrators.
//
// Each flow function (RunFirstFactorGate, RunVerifySecondFactor,
// RunGraceCheck) accepts a typed dependency struct and returns results
// without side-effects beyond those dependencies. The Engine builds the
// dependency sets once and stays thin.
//
// # Architecture boundaries
//
// Flow functions coordinate the credential store, the pending-marker store,
// session finalization, audit and metrics. They do NOT own any of these
// resources; ownership stays with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import goLinkAuth (to avoid import cycles).
//   - Perform I/O directly; all I/O is mediated through dependency funcs.
//   - Cache credential state across calls. Every attempt re-reads lockout.
package flows

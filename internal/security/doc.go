// Package security derives the deployment security posture reported by
// Engine.SecurityReport from configuration and runtime flags.
//
// It has no I/O. The engine gathers inputs and this package decides what
// counts as a weakened posture.
package security

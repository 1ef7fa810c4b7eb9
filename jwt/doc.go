// Package jwt signs and verifies the short-lived access tokens handed out
// when a login completes. Every token references a server-side session; the
// token alone never proves that the session is still alive.
package jwt

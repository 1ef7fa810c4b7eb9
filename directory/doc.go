// Package directory provides a file-backed principal directory and simple
// magic-link deliverers for single-node deployments and development.
//
// [Static] satisfies goLinkAuth.Directory from an in-memory table that can be
// loaded from a TOML file:
//
//	[[principal]]
//	id = "u-1"
//	email = "ops@example.com"
//	username = "ops"
//	roles = ["admin"]
//	password_hash = "$argon2id$v=19$..."
//
// [LogDeliverer] writes links to a zap logger. [Outbox] keeps the most recent
// links in memory for inspection.
package directory

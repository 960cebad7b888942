// Package storage provides interfaces for persisting authorization codes and
// registered clients used by the local authorization-code grant.
//
// The contracts are:
//   - AuthorizationCodeStore: one-time codes with atomic exactly-once redemption
//   - ClientStore: registered tool clients with bcrypt-hashed secrets
//
// Implementations are provided in subpackages:
//   - storage/memory: in-memory storage for development and testing
//   - storage/sqlite: file-backed SQLite storage for single-node deployments
//   - storage/valkey: Valkey/Redis-compatible distributed storage for production
//   - storage/mock: function-field mock for unit testing
package storage

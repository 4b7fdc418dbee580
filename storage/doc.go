// Package storage provides interfaces and types for OAuth client, code, and
// token persistence.
//
// The storage package defines the core storage interfaces used throughout the
// plugin-oauth library:
//   - ClientStore: Manages registered OAuth clients
//   - CodeStore: Manages authorization codes and their confirmation state
//   - TokenStore: Manages access and refresh tokens
//
// The authorization server treats these as key-value stores with per-key
// atomicity; it never assumes cross-key transactions or a global lock.
// Single-use semantics for codes and refresh tokens are enforced by the
// atomic consume primitives, which implementations MUST make linearizable
// per key.
//
// Implementations are provided in subpackages:
//   - storage/memory: In-memory storage for development, testing, and
//     single-instance deployments
package storage

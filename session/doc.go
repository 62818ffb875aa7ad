// Package session provides Redis-backed session persistence and compact binary session
// encoding for authentication hot paths.
//
// # Binary encoding
//
// Sessions are stored in Redis as a compact binary format with a leading schema
// version byte. The encoder is append-only: new versions add fields but never
// reinterpret old ones.
//
// # Architecture boundaries
//
// This package owns the [Store] (Redis operations) and the [Session] model. It does NOT
// interpret JWT tokens or enforce authentication policy — those responsibilities belong
// to the Engine.
//
// # What this package must NOT do
//
//   - Import passcode or jwt (no upward imports).
//   - Store plaintext one-time codes in [Session] fields.
package session

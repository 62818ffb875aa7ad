// Package middleware exposes HTTP middleware adapters for protecting form-based
// endpoints with passcode.Engine session validation.
//
// # Guards
//
//   - [RequireAuthenticated] — validates the session token from cookie or
//     Authorization header; unauthenticated requests are redirected to the
//     login page carrying the originally requested destination.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does NOT implement
// authentication logic itself — all decisions are delegated to Engine.Validate.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly (delegates to Engine).
//   - Access Redis (Engine handles I/O).
//   - Make authorization decisions beyond pass/reject from Engine.Validate.
package middleware

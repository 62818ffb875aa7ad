// Package passcode provides a passwordless authentication engine built on
// short-lived numeric email codes, Redis-backed identity and challenge
// records, and JWT-bound sessions.
//
// The package is designed for concurrent server workloads: Engine methods are safe to call
// from multiple goroutines after initialization through [Builder.Build].
//
// # Architecture boundaries
//
// passcode is the public surface. It exposes [Engine], [Builder], [Config], and value types
// (RequestResult, SubmitResult, MetricsSnapshot, etc.). Session encoding, random code
// material, and token signing live in sub-packages and are wired in by the Builder.
//
// # What this package must NOT do
//
//   - Expose Redis clients, record encodings, or signing keys in its public API.
//   - Perform I/O outside of Engine methods (construction via Builder is allocation-only
//     until Build).
//   - Surface business outcomes of code submission as errors: [AuthOutcome] values are
//     returned, errors are reserved for infrastructure failures.
package passcode

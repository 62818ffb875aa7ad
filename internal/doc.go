// Package internal contains helper utilities that are intentionally private to passcode,
// including secure random session identifiers and numeric code generation.
//
// # What this package must NOT do
//
//   - Export types that appear in the public passcode API.
//   - Be imported by any package outside the passcode module.
package internal

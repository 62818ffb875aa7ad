// Package jwt manages session-token issuance and verification using a configured HS256
// signing key and strict validation semantics suitable for low-latency authentication paths.
package jwt

package internaldefs

import (
	passcode "github.com/avelldahl/passcode"
)

// CounterDef defines a public type used by passcode APIs.
//
// CounterDef instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type CounterDef struct {
	ID   passcode.MetricID
	Name string
	Help string
}

// HistogramDef defines a public type used by passcode APIs.
//
// HistogramDef instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type HistogramDef struct {
	ID   passcode.MetricID
	Name string
	Help string
}

// CounterDefs is an exported constant or variable used by the authentication engine.
var CounterDefs = []CounterDef{
	{ID: passcode.MetricChallengeRequested, Name: "passcode_challenge_requested_total", Help: "Issued one-time code challenges."},
	{ID: passcode.MetricIdentityCreated, Name: "passcode_identity_created_total", Help: "Identities created on first challenge request."},
	{ID: passcode.MetricDeliverySuppressed, Name: "passcode_delivery_suppressed_total", Help: "Challenges logged instead of delivered."},
	{ID: passcode.MetricDeliveryFailure, Name: "passcode_delivery_failure_total", Help: "Failed code deliveries."},
	{ID: passcode.MetricSubmitAuthenticated, Name: "passcode_submit_authenticated_total", Help: "Code submissions that authenticated."},
	{ID: passcode.MetricSubmitInvalidCode, Name: "passcode_submit_invalid_code_total", Help: "Code submissions rejected as invalid."},
	{ID: passcode.MetricSubmitExpired, Name: "passcode_submit_expired_total", Help: "Code submissions rejected as expired."},
	{ID: passcode.MetricSubmitUnknownIdentity, Name: "passcode_submit_unknown_identity_total", Help: "Code submissions for unknown identities."},
	{ID: passcode.MetricSessionCreated, Name: "passcode_session_created_total", Help: "Created sessions."},
	{ID: passcode.MetricSessionInvalidated, Name: "passcode_session_invalidated_total", Help: "Invalidated sessions."},
	{ID: passcode.MetricLogout, Name: "passcode_logout_total", Help: "Logout operations."},
	{ID: passcode.MetricStoreFailure, Name: "passcode_store_failure_total", Help: "Record store failures surfaced to callers."},
}

// HistogramDefs is an exported constant or variable used by the authentication engine.
var HistogramDefs = []HistogramDef{
	{ID: passcode.MetricValidateLatency, Name: "passcode_validate_latency_seconds", Help: "Validate latency histogram."},
}

// HistogramBounds is an exported constant or variable used by the authentication engine.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix is an exported constant or variable used by the authentication engine.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets describes the normalizebuckets operation and its observable behavior.
//
// NormalizeBuckets may return an error when input validation, dependency calls, or security checks fail.
// NormalizeBuckets does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets describes the cumulativebuckets operation and its observable behavior.
//
// CumulativeBuckets may return an error when input validation, dependency calls, or security checks fail.
// CumulativeBuckets does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}

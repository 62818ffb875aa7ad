package passcode

import (
	"context"
	"time"
)

// Identity is a registered contact address eligible for passwordless login.
// Exactly one Identity exists per unique address; the record store enforces
// the uniqueness invariant.
type Identity struct {
	ID        string
	Address   string
	Active    bool
	CreatedAt time.Time
}

// Challenge is a single-use, time-bounded numeric secret issued to an
// Identity. Multiple challenges may exist for one identity, but only the one
// with the highest Seq is eligible for matching.
type Challenge struct {
	ID         string
	IdentityID string
	Code       string
	Seq        uint64
	CreatedAt  time.Time
}

// AuthOutcome defines a public type used by passcode APIs.
//
// AuthOutcome instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuthOutcome uint8

const (
	// OutcomeAuthenticated is an exported constant or variable used by the authentication engine.
	OutcomeAuthenticated AuthOutcome = iota
	// OutcomeInvalidCode is an exported constant or variable used by the authentication engine.
	OutcomeInvalidCode
	// OutcomeExpired is an exported constant or variable used by the authentication engine.
	OutcomeExpired
	// OutcomeUnknownIdentity is an exported constant or variable used by the authentication engine.
	OutcomeUnknownIdentity
)

// String describes the string operation and its observable behavior.
//
// String may return an error when input validation, dependency calls, or security checks fail.
// String does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (o AuthOutcome) String() string {
	switch o {
	case OutcomeAuthenticated:
		return "authenticated"
	case OutcomeInvalidCode:
		return "invalid_code"
	case OutcomeExpired:
		return "expired"
	case OutcomeUnknownIdentity:
		return "unknown_identity"
	default:
		return "unknown"
	}
}

// RecordStore is the persistence contract consumed by the engine. It covers
// identity lookup and creation plus the challenge lifecycle. Implementations
// must make "latest challenge" well-defined under concurrent creation by
// assigning a monotonically increasing sequence to each challenge.
//
// All operations are durable and immediately consistent from the engine's
// perspective; no caching layer sits between the engine and the store.
type RecordStore interface {
	FindIdentity(ctx context.Context, address string) (*Identity, error)
	CreateIdentity(ctx context.Context, address string) (*Identity, error)
	CreateChallenge(ctx context.Context, identityID, code string, createdAt time.Time) (*Challenge, error)
	LatestChallenge(ctx context.Context, identityID string) (*Challenge, error)
	DeleteChallenge(ctx context.Context, challengeID string) error
}

// Notifier delivers a one-time code to a contact address. Implementations
// live in the notify sub-package; the suppressed-delivery mode substitutes a
// logging notifier without changing any other engine behavior.
type Notifier interface {
	Deliver(ctx context.Context, address, code string) error
}

// RequestResult is returned by [Engine.RequestChallenge]. It acknowledges
// that a challenge is pending for the address and never echoes the code.
type RequestResult struct {
	Address    string
	Dispatched bool
}

// SubmitResult is returned by [Engine.SubmitCode]. Outcome is always set;
// the session fields are populated only when Outcome is
// [OutcomeAuthenticated].
type SubmitResult struct {
	Outcome    AuthOutcome
	IdentityID string
	SessionID  string
	Token      string
}

// AuthResult is returned by [Engine.Validate]. It identifies the
// authenticated identity and the session the token is bound to.
type AuthResult struct {
	IdentityID string
	Address    string
	SessionID  string
}

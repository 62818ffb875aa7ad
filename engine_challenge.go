package passcode

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"github.com/avelldahl/passcode/internal"
	"github.com/avelldahl/passcode/session"
)

// RequestChallenge describes the requestchallenge operation and its observable behavior.
//
// RequestChallenge may return an error when input validation, dependency calls, or security checks fail.
// RequestChallenge does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) RequestChallenge(ctx context.Context, address string) (*RequestResult, error) {
	if e == nil || e.records == nil || e.notifier == nil {
		return nil, ErrEngineNotReady
	}

	address = strings.TrimSpace(address)
	if address == "" {
		e.emitAudit(ctx, auditEventChallengeRequest, false, "", "", "", ErrInvalidAddress, nil)
		return nil, ErrInvalidAddress
	}

	identity, err := e.records.FindIdentity(ctx, address)
	if err != nil {
		wrapped := mapRecordStoreError(err)
		e.metricInc(MetricStoreFailure)
		e.emitAudit(ctx, auditEventChallengeRequest, false, "", address, "", wrapped, func() map[string]string {
			return map[string]string{
				"reason": "identity_lookup_failed",
			}
		})
		return nil, wrapped
	}
	if identity == nil {
		identity, err = e.records.CreateIdentity(ctx, address)
		if err != nil {
			wrapped := mapRecordStoreError(err)
			e.metricInc(MetricStoreFailure)
			e.emitAudit(ctx, auditEventChallengeRequest, false, "", address, "", wrapped, func() map[string]string {
				return map[string]string{
					"reason": "identity_create_failed",
				}
			})
			return nil, wrapped
		}
		e.metricInc(MetricIdentityCreated)
	}

	code, err := internal.NewCode(e.config.Challenge.CodeLength)
	if err != nil {
		e.emitAudit(ctx, auditEventChallengeRequest, false, identity.ID, address, "", err, func() map[string]string {
			return map[string]string{
				"reason": "code_generation_failed",
			}
		})
		return nil, err
	}

	// A newer challenge supersedes all earlier ones for the identity; the
	// store assigns the sequence that makes that ordering explicit.
	if _, err := e.records.CreateChallenge(ctx, identity.ID, code, time.Now()); err != nil {
		wrapped := mapRecordStoreError(err)
		e.metricInc(MetricStoreFailure)
		e.emitAudit(ctx, auditEventChallengeRequest, false, identity.ID, address, "", wrapped, func() map[string]string {
			return map[string]string{
				"reason": "challenge_create_failed",
			}
		})
		return nil, wrapped
	}

	if err := e.notifier.Deliver(ctx, address, code); err != nil {
		wrapped := fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
		e.metricInc(MetricDeliveryFailure)
		e.emitAudit(ctx, auditEventDeliveryFailure, false, identity.ID, address, "", wrapped, nil)
		return nil, wrapped
	}
	if e.config.Delivery.Suppress {
		e.metricInc(MetricDeliverySuppressed)
	}

	e.metricInc(MetricChallengeRequested)
	e.emitAudit(ctx, auditEventChallengeRequest, true, identity.ID, address, "", nil, nil)

	return &RequestResult{
		Address:    address,
		Dispatched: true,
	}, nil
}

// SubmitCode describes the submitcode operation and its observable behavior.
//
// SubmitCode may return an error when input validation, dependency calls, or security checks fail.
// SubmitCode does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) SubmitCode(ctx context.Context, address, code string) (*SubmitResult, error) {
	if e == nil || e.records == nil || e.sessionStore == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}

	address = strings.TrimSpace(address)
	if address == "" {
		e.emitAudit(ctx, auditEventCodeSubmit, false, "", "", "", ErrInvalidAddress, nil)
		return nil, ErrInvalidAddress
	}
	if !internal.IsDigits(code) || len(code) != e.config.Challenge.CodeLength {
		e.emitAudit(ctx, auditEventCodeSubmit, false, "", address, "", ErrInvalidCodeFormat, nil)
		return nil, ErrInvalidCodeFormat
	}

	identity, err := e.records.FindIdentity(ctx, address)
	if err != nil {
		wrapped := mapRecordStoreError(err)
		e.metricInc(MetricStoreFailure)
		e.emitAudit(ctx, auditEventCodeSubmit, false, "", address, "", wrapped, func() map[string]string {
			return map[string]string{
				"reason": "identity_lookup_failed",
			}
		})
		return nil, wrapped
	}
	if identity == nil || !identity.Active {
		e.metricInc(MetricSubmitUnknownIdentity)
		e.emitAudit(ctx, auditEventCodeSubmit, false, "", address, "", nil, func() map[string]string {
			return map[string]string{
				"outcome": OutcomeUnknownIdentity.String(),
			}
		})
		return &SubmitResult{Outcome: OutcomeUnknownIdentity}, nil
	}

	challenge, err := e.records.LatestChallenge(ctx, identity.ID)
	if err != nil {
		wrapped := mapRecordStoreError(err)
		e.metricInc(MetricStoreFailure)
		e.emitAudit(ctx, auditEventCodeSubmit, false, identity.ID, address, "", wrapped, func() map[string]string {
			return map[string]string{
				"reason": "challenge_lookup_failed",
			}
		})
		return nil, wrapped
	}
	if challenge == nil {
		e.metricInc(MetricSubmitInvalidCode)
		e.emitAudit(ctx, auditEventCodeSubmit, false, identity.ID, address, "", nil, func() map[string]string {
			return map[string]string{
				"outcome": OutcomeInvalidCode.String(),
				"reason":  "no_pending_challenge",
			}
		})
		return &SubmitResult{Outcome: OutcomeInvalidCode, IdentityID: identity.ID}, nil
	}

	// Rejections leave the challenge untouched: a mistyped or late submission
	// must not consume the code.
	if subtle.ConstantTimeCompare([]byte(challenge.Code), []byte(code)) != 1 {
		e.metricInc(MetricSubmitInvalidCode)
		e.emitAudit(ctx, auditEventCodeSubmit, false, identity.ID, address, "", nil, func() map[string]string {
			return map[string]string{
				"outcome": OutcomeInvalidCode.String(),
			}
		})
		return &SubmitResult{Outcome: OutcomeInvalidCode, IdentityID: identity.ID}, nil
	}

	if time.Since(challenge.CreatedAt) > e.config.Challenge.ExpiryWindow {
		e.metricInc(MetricSubmitExpired)
		e.emitAudit(ctx, auditEventCodeSubmit, false, identity.ID, address, "", nil, func() map[string]string {
			return map[string]string{
				"outcome": OutcomeExpired.String(),
			}
		})
		return &SubmitResult{Outcome: OutcomeExpired, IdentityID: identity.ID}, nil
	}

	// Single use: the challenge is consumed before any session state exists,
	// so a replay of the same code can never authenticate twice.
	if err := e.records.DeleteChallenge(ctx, challenge.ID); err != nil {
		wrapped := mapRecordStoreError(err)
		e.metricInc(MetricStoreFailure)
		e.emitAudit(ctx, auditEventCodeSubmit, false, identity.ID, address, "", wrapped, func() map[string]string {
			return map[string]string{
				"reason": "challenge_consume_failed",
			}
		})
		return nil, wrapped
	}

	if e.config.Session.RotateOnLogin {
		if err := e.sessionStore.DeleteAllForIdentity(ctx, identity.ID); err != nil {
			wrapped := fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
			e.emitAudit(ctx, auditEventCodeSubmit, false, identity.ID, address, "", wrapped, func() map[string]string {
				return map[string]string{
					"reason": "session_rotation_failed",
				}
			})
			return nil, wrapped
		}
		e.metricInc(MetricSessionInvalidated)
	}

	sid, err := internal.NewSessionID()
	if err != nil {
		wrapped := fmt.Errorf("%w: %v", ErrSessionCreationFailed, err)
		e.emitAudit(ctx, auditEventCodeSubmit, false, identity.ID, address, "", wrapped, func() map[string]string {
			return map[string]string{
				"reason": "session_id_generation",
			}
		})
		return nil, wrapped
	}
	sessionID := sid.String()

	now := time.Now()
	sess := &session.Session{
		SessionID:  sessionID,
		IdentityID: identity.ID,
		Address:    identity.Address,
		CreatedAt:  now.Unix(),
		ExpiresAt:  now.Add(e.config.Session.TTL).Unix(),
	}

	if err := e.sessionStore.Save(ctx, sess, e.config.Session.TTL); err != nil {
		wrapped := fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
		e.emitAudit(ctx, auditEventCodeSubmit, false, identity.ID, address, sessionID, wrapped, func() map[string]string {
			return map[string]string{
				"reason": "session_save_failed",
			}
		})
		return nil, wrapped
	}

	token, err := e.jwtManager.CreateSession(identity.ID, sessionID)
	if err != nil {
		wrapped := fmt.Errorf("%w: %v", ErrSessionCreationFailed, err)
		e.emitAudit(ctx, auditEventCodeSubmit, false, identity.ID, address, sessionID, wrapped, func() map[string]string {
			return map[string]string{
				"reason": "token_signing_failed",
			}
		})
		return nil, wrapped
	}

	e.metricInc(MetricSessionCreated)
	e.metricInc(MetricSubmitAuthenticated)
	e.emitAudit(ctx, auditEventCodeSubmit, true, identity.ID, address, sessionID, nil, func() map[string]string {
		return map[string]string{
			"outcome": OutcomeAuthenticated.String(),
		}
	})

	return &SubmitResult{
		Outcome:    OutcomeAuthenticated,
		IdentityID: identity.ID,
		SessionID:  sessionID,
		Token:      token,
	}, nil
}

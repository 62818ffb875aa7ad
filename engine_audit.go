package passcode

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventChallengeRequest = "challenge_request"
	auditEventCodeSubmit       = "code_submit"
	auditEventDeliveryFailure  = "delivery_failure"
	auditEventLogoutSession    = "logout_session"
)

// AuditErrorCode defines a public type used by passcode APIs.
//
// AuditErrorCode instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditErrorCode string

const (
	auditErrInvalidAddress    AuditErrorCode = "invalid_address"
	auditErrInvalidCodeFormat AuditErrorCode = "invalid_code_format"
	auditErrStoreUnavailable  AuditErrorCode = "store_unavailable"
	auditErrDeliveryFailed    AuditErrorCode = "delivery_failed"
	auditErrSessionCreation   AuditErrorCode = "session_creation_failed"
	auditErrSessionNotFound   AuditErrorCode = "session_not_found"
	auditErrInvalidToken      AuditErrorCode = "invalid_token"
	auditErrUnauthorized      AuditErrorCode = "unauthorized"
	auditErrInternal          AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	identityID string,
	address string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp:  time.Now().UTC(),
		EventType:  eventType,
		IdentityID: identityID,
		Address:    address,
		SessionID:  sessionID,
		IP:         clientIPFromContext(ctx),
		Success:    success,
		Metadata:   metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidAddress):
		return auditErrInvalidAddress
	case errors.Is(err, ErrInvalidCodeFormat):
		return auditErrInvalidCodeFormat
	case errors.Is(err, ErrStoreUnavailable):
		return auditErrStoreUnavailable
	case errors.Is(err, ErrDeliveryFailed):
		return auditErrDeliveryFailed
	case errors.Is(err, ErrSessionCreationFailed),
		errors.Is(err, ErrSessionUnavailable):
		return auditErrSessionCreation
	case errors.Is(err, ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrTokenInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrUnauthorized):
		return auditErrUnauthorized
	default:
		return auditErrInternal
	}
}

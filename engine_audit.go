package goIdP

import (
	"context"
	"errors"

	"github.com/MrEthical07/goIdP/internal/limiters"
)

const (
	auditEventAccountStatusChange    = "account_status_change"
	auditEventAccountLinked          = "account_linked"
	auditEventAccountDeleted         = "account_deleted"
	auditEventPasswordVerify         = "password_verify"
	auditEventPasswordExpired        = "password_expired"
	auditEventPasswordRehashed       = "password_rehashed"
	auditEventPasswordSet            = "password_set"
	auditEventPasswordRevoked        = "password_revoked"
	auditEventPasswordResetRequest   = "password_reset_request"
	auditEventPasswordResetVerify    = "password_reset_verify"
	auditEventPasswordResetConfirm   = "password_reset_confirm"
	auditEventPasswordResetNotify    = "password_reset_notify"
	auditEventRegistrationStarted    = "webauthn_registration_started"
	auditEventRegistrationFinished   = "webauthn_registration_finished"
	auditEventRegistrationSaved      = "webauthn_registration_saved"
	auditEventAuthenticationStarted  = "webauthn_authentication_started"
	auditEventAuthenticationFinished = "webauthn_authentication_finished"
	auditEventCounterReplay          = "webauthn_counter_replay"
	auditEventCredentialEdited       = "webauthn_credential_edited"
	auditEventCredentialDeleted      = "webauthn_credential_deleted"
	auditEventRateLimitTriggered     = "rate_limit_triggered"
)

// AuditErrorCode is the stable, non-sensitive failure code carried by
// [AuditEvent.ErrorCode].
type AuditErrorCode string

const (
	auditErrNoSuchUser        AuditErrorCode = "no_such_user"
	auditErrNoSuchCredential  AuditErrorCode = "no_such_credential"
	auditErrNotFound          AuditErrorCode = "not_found"
	auditErrInvalidKey        AuditErrorCode = "invalid_key"
	auditErrInvalidData       AuditErrorCode = "invalid_data"
	auditErrMissingData       AuditErrorCode = "missing_data"
	auditErrAlreadyRegistered AuditErrorCode = "already_registered"
	auditErrIllegalState      AuditErrorCode = "illegal_state"
	auditErrIllegalArgument   AuditErrorCode = "illegal_argument"
	auditErrCounterReplay     AuditErrorCode = "counter_replay"
	auditErrRegistration      AuditErrorCode = "registration_failed"
	auditErrAuthentication    AuditErrorCode = "authentication_failed"
	auditErrCeremonyExpired   AuditErrorCode = "ceremony_expired"
	auditErrRateLimited       AuditErrorCode = "rate_limited"
	auditErrDisabled          AuditErrorCode = "disabled"
	auditErrPasswordPolicy    AuditErrorCode = "password_policy"
	auditErrConflict          AuditErrorCode = "conflict"
	auditErrUnavailable       AuditErrorCode = "backend_unavailable"
	auditErrInternal          AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	accountID string,
	userID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	event := AuditEvent{
		Time:      e.clock(),
		Realm:     e.config.Realm,
		Provider:  e.config.ProviderID,
		Authority: e.authority,
		Action:    eventType,
		Outcome:   AuditFailure,
		AccountID: accountID,
		UserID:    userID,
		ClientIP:  clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		ErrorCode: string(auditErrorCode(err)),
	}
	if success {
		event.Outcome = AuditSuccess
	}
	if metadataBuilder != nil {
		details := metadataBuilder()
		if id, ok := details["credential_id"]; ok {
			event.CredentialID = id
			delete(details, "credential_id")
		}
		if len(details) > 0 {
			event.Details = details
		}
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(
	ctx context.Context,
	scope string,
	metadataBuilder func() map[string]string,
) {
	e.metricInc(MetricRateLimitHit)
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, "", "", nil, func() map[string]string {
		base := map[string]string{
			"scope": scope,
		}
		if metadataBuilder == nil {
			return base
		}
		for k, v := range metadataBuilder() {
			base[k] = v
		}
		return base
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	var fe *FieldError
	switch {
	case errors.Is(err, ErrNoSuchUser):
		return auditErrNoSuchUser
	case errors.Is(err, ErrNoSuchCredential):
		return auditErrNoSuchCredential
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrNoSuchProvider),
		errors.Is(err, ErrNoSuchAuthority):
		return auditErrNotFound
	case errors.Is(err, ErrCeremonyExpired):
		return auditErrCeremonyExpired
	case errors.As(err, &fe) && fe.Kind == ErrInvalidData && fe.Field == FieldKey:
		return auditErrInvalidKey
	case errors.Is(err, ErrInvalidData):
		return auditErrInvalidData
	case errors.Is(err, ErrMissingData):
		return auditErrMissingData
	case errors.Is(err, ErrAlreadyRegistered),
		errors.Is(err, ErrDuplicateRecord):
		return auditErrAlreadyRegistered
	case errors.Is(err, ErrIllegalState):
		return auditErrIllegalState
	case errors.Is(err, ErrIllegalArgument):
		return auditErrIllegalArgument
	case errors.Is(err, ErrSignatureCounter):
		return auditErrCounterReplay
	case errors.Is(err, ErrRegistration):
		return auditErrRegistration
	case errors.Is(err, ErrAuthentication):
		return auditErrAuthentication
	case errors.Is(err, ErrPasswordResetRateLimited),
		errors.Is(err, limiters.ErrResetRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrPasswordResetDisabled):
		return auditErrDisabled
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrVersionConflict),
		errors.Is(err, ErrCounterConflict):
		return auditErrConflict
	case errors.Is(err, ErrStoreUnavailable),
		errors.Is(err, limiters.ErrResetRedisUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}

package goIdP

import "errors"

var (
	// ErrNotFound is returned when a user, account or credential does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNoSuchUser is returned when no account matches the supplied identifier.
	ErrNoSuchUser = &kindError{kind: ErrNotFound, msg: "no such user"}
	// ErrNoSuchCredential is returned when no credential matches the supplied key or id.
	ErrNoSuchCredential = &kindError{kind: ErrNotFound, msg: "no such credential"}
	// ErrNoSuchProvider is returned by [Registry] when a provider id is not registered.
	ErrNoSuchProvider = errors.New("no such provider")
	// ErrNoSuchAuthority is returned by [Registry] when the resolved provider does not
	// implement the requested mechanism.
	ErrNoSuchAuthority = errors.New("no such authority")
	// ErrInvalidData is the kind of every failed-validation input error.
	ErrInvalidData = errors.New("invalid data")
	// ErrMissingData is the kind of every required-field error.
	ErrMissingData = errors.New("missing data")
	// ErrAlreadyRegistered is returned when a credential is registered twice.
	ErrAlreadyRegistered = errors.New("already registered")
	// ErrIllegalState is returned for forbidden status transitions.
	ErrIllegalState = errors.New("illegal state")
	// ErrIllegalArgument is the kind of argument errors such as a realm mismatch.
	ErrIllegalArgument = errors.New("illegal argument")
	// ErrRegistration is returned when a WebAuthn registration ceremony fails.
	ErrRegistration = errors.New("webauthn registration failed")
	// ErrAuthentication is returned when a WebAuthn authentication ceremony fails.
	ErrAuthentication = errors.New("webauthn authentication failed")
	// ErrSignatureCounter is returned when an assertion presents a non-increasing
	// signature counter. It matches [ErrAuthentication] under errors.Is.
	ErrSignatureCounter = &kindError{kind: ErrAuthentication, msg: "signature counter did not increase"}
	// ErrSystem wraps lower-level crypto or backend failures.
	ErrSystem = errors.New("system error")
	// ErrEngineNotReady is returned when a provider was not built through [Builder].
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrPasswordResetDisabled is returned when reset is turned off for the provider.
	ErrPasswordResetDisabled = errors.New("password reset disabled")
	// ErrPasswordResetRateLimited is returned when reset requests exceed the throttle.
	ErrPasswordResetRateLimited = errors.New("password reset rate limited")
	// ErrPasswordPolicy is returned when a new password violates length policy.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrCeremonyExpired is returned when a ceremony handle is unknown, consumed or expired.
	ErrCeremonyExpired = &kindError{kind: ErrInvalidData, msg: "ceremony expired or unknown"}
)

// Store contract errors. Adapters implementing [AccountStore],
// [PasswordCredentialStore] and [WebAuthnCredentialStore] must return these so
// the flows can tell a lost race from a missing row.
var (
	ErrRecordNotFound   = errors.New("record not found")
	ErrVersionConflict  = errors.New("record version conflict")
	ErrDuplicateRecord  = errors.New("duplicate record")
	ErrCounterConflict  = errors.New("signature counter conflict")
	ErrStoreUnavailable = errors.New("credential store unavailable")
)

// Field names used in [FieldError].
const (
	FieldKey            = "key"
	FieldSignatureCount = "signature-count"
	FieldRealmMismatch  = "realm-mismatch"
	FieldUserID         = "user-id"
	FieldUserHandle     = "user-handle"
	FieldCredentialID   = "credential-id"
	FieldPublicKey      = "public-key"
	FieldPassword       = "password"
	FieldDisplayName    = "display-name"
	FieldStatus         = "status"
	FieldUsername       = "username"
	FieldState          = "state"
	FieldResponse       = "response"
)

// FieldError qualifies a kind sentinel ([ErrInvalidData], [ErrMissingData],
// [ErrIllegalArgument]) with the field it refers to. errors.Is matches the kind.
type FieldError struct {
	Kind  error
	Field string
}

func (e *FieldError) Error() string {
	if e.Kind == ErrInvalidData && e.Field == FieldKey {
		return "invalid or expired key"
	}
	return e.Kind.Error() + ": " + e.Field
}

func (e *FieldError) Unwrap() error {
	return e.Kind
}

// InvalidData returns an [ErrInvalidData] error for field.
func InvalidData(field string) error {
	return &FieldError{Kind: ErrInvalidData, Field: field}
}

// MissingData returns an [ErrMissingData] error for field.
func MissingData(field string) error {
	return &FieldError{Kind: ErrMissingData, Field: field}
}

// IllegalArgument returns an [ErrIllegalArgument] error for field.
func IllegalArgument(field string) error {
	return &FieldError{Kind: ErrIllegalArgument, Field: field}
}

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.kind }

// unknownKeyError is returned when no credential carries the supplied reset
// key. It reads like every other key failure but also matches
// [ErrNoSuchCredential] under errors.Is.
type unknownKeyError struct{}

func (unknownKeyError) Error() string { return "invalid or expired key" }

func (unknownKeyError) Unwrap() []error {
	return []error{ErrNoSuchCredential, InvalidData(FieldKey)}
}

var errUnknownResetKey error = unknownKeyError{}

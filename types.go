package goIdP

import (
	"context"
	"time"
)

// AccountStatus represents the lifecycle state of an account.
type AccountStatus string

const (
	// AccountActive accounts can authenticate and be mutated.
	AccountActive AccountStatus = "ACTIVE"
	// AccountInactive accounts can only be reactivated.
	AccountInactive AccountStatus = "INACTIVE"
	// AccountLocked accounts are temporarily blocked by an operator or policy.
	AccountLocked AccountStatus = "LOCKED"
)

// Valid reports whether s is one of the declared account states.
func (s AccountStatus) Valid() bool {
	switch s {
	case AccountActive, AccountInactive, AccountLocked:
		return true
	}
	return false
}

// CredentialStatus represents the lifecycle state of a stored credential.
//
// Only ACTIVE is usable. INACTIVE, REVOKED and EXPIRED are terminal for a row.
type CredentialStatus string

const (
	CredentialActive   CredentialStatus = "ACTIVE"
	CredentialInactive CredentialStatus = "INACTIVE"
	CredentialRevoked  CredentialStatus = "REVOKED"
	CredentialExpired  CredentialStatus = "EXPIRED"
)

// Authority identifiers for the mechanisms shipped with this module.
const (
	AuthorityPassword = "password"
	AuthorityWebAuthn = "webauthn"
)

// Account is one identity per mechanism, realm and local identifier.
//
// UUID is assigned once and never changes. AccountID is unique inside
// RepositoryID. Version is the optimistic-concurrency token: stores must
// reject an update whose expected version does not match.
type Account struct {
	Authority     string
	Provider      string
	Realm         string
	RepositoryID  string
	AccountID     string
	UUID          string
	UserID        string
	Username      string
	UserHandle    []byte
	Status        AccountStatus
	Email         string
	EmailVerified bool
	Version       uint64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PasswordCredential is a stored password row. PasswordHash is a PHC string
// produced by the configured hasher. ResetKeyHash holds the SHA-256 digest of
// the outstanding reset key, never the key itself.
type PasswordCredential struct {
	ID                  string
	RepositoryID        string
	AccountID           string
	UserID              string
	PasswordHash        string
	Status              CredentialStatus
	ChangeOnFirstAccess bool
	ExpirationDate      *time.Time
	ResetKeyHash        string
	ResetDeadline       *time.Time
	Version             uint64
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Expired reports whether the credential expiration date has passed at now.
func (c PasswordCredential) Expired(now time.Time) bool {
	return c.ExpirationDate != nil && now.After(*c.ExpirationDate)
}

// PasswordCredentialView is the caller-facing projection of a
// [PasswordCredential]. It never carries the password hash. ResetKey is only
// populated in the value returned by RequestPasswordReset.
type PasswordCredentialView struct {
	ID                  string
	AccountID           string
	UserID              string
	Status              CredentialStatus
	ChangeOnFirstAccess bool
	ExpirationDate      *time.Time
	ResetKey            string
	ResetDeadline       *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// PasswordVerification is returned by VerifyPasswordDetailed. Valid only
// describes the password; AccountStatus is the account's status at the time of
// the check and is not folded into Valid.
type PasswordVerification struct {
	Valid          bool
	ChangeRequired bool
	CredentialID   string
	AccountStatus  AccountStatus
}

// WebAuthnCredential is one registered authenticator bound to an account
// through UserHandle. (UserHandle, CredentialID) is unique. SignatureCount
// never decreases across successful authentications.
type WebAuthnCredential struct {
	ID                string
	RepositoryID      string
	AccountID         string
	UserID            string
	UserHandle        []byte
	CredentialID      string
	PublicKeyCOSE     []byte
	SignatureCount    int64
	AAGUID            []byte
	AttestationType   string
	Transports        []string
	Discoverable      *bool
	UserVerified      bool
	BackupEligible    bool
	BackupState       bool
	DisplayName       string
	AttestationObject []byte
	ClientData        []byte
	Status            CredentialStatus
	LastUsedAt        *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// WebAuthnCredentialView is the caller-facing projection of a
// [WebAuthnCredential]. Key material, the user handle and the raw
// attestation payloads are omitted.
type WebAuthnCredentialView struct {
	ID             string
	AccountID      string
	UserID         string
	CredentialID   string
	DisplayName    string
	Transports     []string
	Discoverable   *bool
	SignatureCount int64
	BackupEligible bool
	BackupState    bool
	Status         CredentialStatus
	LastUsedAt     *time.Time
	CreatedAt      time.Time
}

// AuthenticationResult is returned by a completed WebAuthn assertion.
type AuthenticationResult struct {
	Account    Account
	UserID     string
	Credential WebAuthnCredentialView
}

// RealmInfo personalizes notifications.
type RealmInfo struct {
	Slug  string
	Name  string
	Email string
}

// UserInfo is what a [UserDirectory] knows about a platform user.
type UserInfo struct {
	UserID   string
	Username string
	Email    string
}

// Resource is an entry in the optional subject-resource index.
type Resource struct {
	UUID         string
	Realm        string
	Authority    string
	Provider     string
	RepositoryID string
	ResourceID   string
	UserID       string
}

// AccountStore persists [Account] records partitioned by repository id.
//
// Update must compare expectedVersion with the stored version and return
// [ErrVersionConflict] on mismatch. Add must return [ErrDuplicateRecord] when
// the account id is taken. Delete is idempotent.
type AccountStore interface {
	FindByID(ctx context.Context, repositoryID, accountID string) (Account, error)
	FindByUser(ctx context.Context, repositoryID, userID string) ([]Account, error)
	FindByEmail(ctx context.Context, repositoryID, email string) ([]Account, error)
	FindByUserHandle(ctx context.Context, repositoryID string, userHandle []byte) (Account, error)
	Add(ctx context.Context, account Account) (Account, error)
	Update(ctx context.Context, account Account, expectedVersion uint64) (Account, error)
	Delete(ctx context.Context, repositoryID, accountID string) error
}

// PasswordCredentialStore persists [PasswordCredential] rows.
//
// Credentials belong to an account; UserID is a copy of the account's
// user id that RebindUser keeps current when the account is linked.
// FindByResetKey looks up by the SHA-256 hex digest of the reset key.
// Update follows the same version contract as [AccountStore.Update].
type PasswordCredentialStore interface {
	FindByAccount(ctx context.Context, repositoryID, accountID string) ([]PasswordCredential, error)
	FindByUser(ctx context.Context, repositoryID, userID string) ([]PasswordCredential, error)
	FindByID(ctx context.Context, repositoryID, id string) (PasswordCredential, error)
	FindByResetKey(ctx context.Context, repositoryID, resetKeyHash string) (PasswordCredential, error)
	Add(ctx context.Context, credential PasswordCredential) (PasswordCredential, error)
	Update(ctx context.Context, credential PasswordCredential, expectedVersion uint64) (PasswordCredential, error)
	RebindUser(ctx context.Context, repositoryID, accountID, userID string) error
	DeleteByAccount(ctx context.Context, repositoryID, accountID string) error
}

// WebAuthnCredentialStore persists [WebAuthnCredential] rows.
//
// Add must be guarded by a unique constraint on (repository, user handle,
// credential id) and report violations as [ErrDuplicateRecord].
// UpdateSignatureCount is a single conditional write that succeeds only when
// the stored counter still equals expected; otherwise it returns
// [ErrCounterConflict]. RebindUser moves every credential of an account to
// a new user id.
type WebAuthnCredentialStore interface {
	FindByID(ctx context.Context, repositoryID, id string) (WebAuthnCredential, error)
	FindByUser(ctx context.Context, repositoryID, userID string) ([]WebAuthnCredential, error)
	FindByUserHandle(ctx context.Context, repositoryID string, userHandle []byte) ([]WebAuthnCredential, error)
	FindByUserHandleAndCredentialID(ctx context.Context, repositoryID string, userHandle []byte, credentialID string) (WebAuthnCredential, error)
	Add(ctx context.Context, credential WebAuthnCredential) (WebAuthnCredential, error)
	UpdateSignatureCount(ctx context.Context, repositoryID, id string, expected, next int64, usedAt time.Time) error
	UpdateDisplayName(ctx context.Context, repositoryID, id, displayName string) (WebAuthnCredential, error)
	RebindUser(ctx context.Context, repositoryID, accountID, userID string) error
	Delete(ctx context.Context, repositoryID, id string) error
	DeleteByUser(ctx context.Context, repositoryID, userID string) error
}

// NotificationService delivers templated messages. Errors are logged by the
// caller and never abort the surrounding operation.
type NotificationService interface {
	Send(ctx context.Context, to, template, locale string, vars map[string]any) error
}

// RealmResolver looks up display data for a realm.
type RealmResolver interface {
	FindRealm(ctx context.Context, realm string) (RealmInfo, error)
}

// UserDirectory confirms that a platform user exists before a first
// credential is registered for it.
type UserDirectory interface {
	FindUser(ctx context.Context, userID string) (UserInfo, error)
}

// ResourceIndex tracks subject resources (accounts, credentials) by UUID.
type ResourceIndex interface {
	Put(ctx context.Context, resource Resource) error
	Remove(ctx context.Context, uuid string) error
}

func passwordView(c PasswordCredential) PasswordCredentialView {
	return PasswordCredentialView{
		ID:                  c.ID,
		AccountID:           c.AccountID,
		UserID:              c.UserID,
		Status:              c.Status,
		ChangeOnFirstAccess: c.ChangeOnFirstAccess,
		ExpirationDate:      cloneTime(c.ExpirationDate),
		ResetDeadline:       cloneTime(c.ResetDeadline),
		CreatedAt:           c.CreatedAt,
		UpdatedAt:           c.UpdatedAt,
	}
}

func webAuthnView(c WebAuthnCredential) WebAuthnCredentialView {
	return WebAuthnCredentialView{
		ID:             c.ID,
		AccountID:      c.AccountID,
		UserID:         c.UserID,
		CredentialID:   c.CredentialID,
		DisplayName:    c.DisplayName,
		Transports:     append([]string(nil), c.Transports...),
		Discoverable:   cloneBool(c.Discoverable),
		SignatureCount: c.SignatureCount,
		BackupEligible: c.BackupEligible,
		BackupState:    c.BackupState,
		Status:         c.Status,
		LastUsedAt:     cloneTime(c.LastUsedAt),
		CreatedAt:      c.CreatedAt,
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

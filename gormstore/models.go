package gormstore

import (
	"encoding/json"
	"time"

	goIdP "github.com/MrEthical07/goIdP"
	"gorm.io/datatypes"
)

type accountRow struct {
	UUID          string `gorm:"column:uuid;primaryKey"`
	RepositoryID  string `gorm:"column:repository_id"`
	AccountID     string `gorm:"column:account_id"`
	Authority     string `gorm:"column:authority"`
	Provider      string `gorm:"column:provider"`
	Realm         string `gorm:"column:realm"`
	UserID        string `gorm:"column:user_id"`
	Username      string `gorm:"column:username"`
	UserHandle    []byte `gorm:"column:user_handle"`
	Status        string `gorm:"column:status"`
	Email         string `gorm:"column:email"`
	EmailVerified bool   `gorm:"column:email_verified"`
	Version       uint64 `gorm:"column:version"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (accountRow) TableName() string { return "idp_accounts" }

func accountToRow(a goIdP.Account) accountRow {
	return accountRow{
		UUID:          a.UUID,
		RepositoryID:  a.RepositoryID,
		AccountID:     a.AccountID,
		Authority:     a.Authority,
		Provider:      a.Provider,
		Realm:         a.Realm,
		UserID:        a.UserID,
		Username:      a.Username,
		UserHandle:    nilIfEmpty(a.UserHandle),
		Status:        string(a.Status),
		Email:         a.Email,
		EmailVerified: a.EmailVerified,
		Version:       a.Version,
		CreatedAt:     a.CreatedAt.UTC(),
		UpdatedAt:     a.UpdatedAt.UTC(),
	}
}

func (r accountRow) toDomain() goIdP.Account {
	return goIdP.Account{
		Authority:     r.Authority,
		Provider:      r.Provider,
		Realm:         r.Realm,
		RepositoryID:  r.RepositoryID,
		AccountID:     r.AccountID,
		UUID:          r.UUID,
		UserID:        r.UserID,
		Username:      r.Username,
		UserHandle:    r.UserHandle,
		Status:        goIdP.AccountStatus(r.Status),
		Email:         r.Email,
		EmailVerified: r.EmailVerified,
		Version:       r.Version,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
}

type passwordRow struct {
	ID                  string     `gorm:"column:id;primaryKey"`
	RepositoryID        string     `gorm:"column:repository_id"`
	AccountID           string     `gorm:"column:account_id"`
	UserID              string     `gorm:"column:user_id"`
	PasswordHash        string     `gorm:"column:password_hash"`
	Status              string     `gorm:"column:status"`
	ChangeOnFirstAccess bool       `gorm:"column:change_on_first_access"`
	ExpirationDate      *time.Time `gorm:"column:expiration_date"`
	ResetKeyHash        *string    `gorm:"column:reset_key_hash"`
	ResetDeadline       *time.Time `gorm:"column:reset_deadline"`
	Version             uint64     `gorm:"column:version"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (passwordRow) TableName() string { return "idp_password_credentials" }

func passwordToRow(c goIdP.PasswordCredential) passwordRow {
	row := passwordRow{
		ID:                  c.ID,
		RepositoryID:        c.RepositoryID,
		AccountID:           c.AccountID,
		UserID:              c.UserID,
		PasswordHash:        c.PasswordHash,
		Status:              string(c.Status),
		ChangeOnFirstAccess: c.ChangeOnFirstAccess,
		ExpirationDate:      utcPtr(c.ExpirationDate),
		ResetDeadline:       utcPtr(c.ResetDeadline),
		Version:             c.Version,
		CreatedAt:           c.CreatedAt.UTC(),
		UpdatedAt:           c.UpdatedAt.UTC(),
	}
	// NULL keeps the unique index on reset keys free of empty strings.
	if c.ResetKeyHash != "" {
		key := c.ResetKeyHash
		row.ResetKeyHash = &key
	}
	return row
}

func (r passwordRow) toDomain() goIdP.PasswordCredential {
	c := goIdP.PasswordCredential{
		ID:                  r.ID,
		RepositoryID:        r.RepositoryID,
		AccountID:           r.AccountID,
		UserID:              r.UserID,
		PasswordHash:        r.PasswordHash,
		Status:              goIdP.CredentialStatus(r.Status),
		ChangeOnFirstAccess: r.ChangeOnFirstAccess,
		ExpirationDate:      utcPtr(r.ExpirationDate),
		ResetDeadline:       utcPtr(r.ResetDeadline),
		Version:             r.Version,
		CreatedAt:           r.CreatedAt.UTC(),
		UpdatedAt:           r.UpdatedAt.UTC(),
	}
	if r.ResetKeyHash != nil {
		c.ResetKeyHash = *r.ResetKeyHash
	}
	return c
}

type webAuthnRow struct {
	ID                string         `gorm:"column:id;primaryKey"`
	RepositoryID      string         `gorm:"column:repository_id"`
	AccountID         string         `gorm:"column:account_id"`
	UserID            string         `gorm:"column:user_id"`
	UserHandle        []byte         `gorm:"column:user_handle"`
	CredentialID      string         `gorm:"column:credential_id"`
	PublicKey         []byte         `gorm:"column:public_key"`
	SignatureCount    int64          `gorm:"column:signature_count"`
	AAGUID            []byte         `gorm:"column:aaguid"`
	AttestationType   string         `gorm:"column:attestation_type"`
	Transports        datatypes.JSON `gorm:"column:transports"`
	Discoverable      *bool          `gorm:"column:discoverable"`
	UserVerified      bool           `gorm:"column:user_verified"`
	BackupEligible    bool           `gorm:"column:backup_eligible"`
	BackupState       bool           `gorm:"column:backup_state"`
	DisplayName       string         `gorm:"column:display_name"`
	AttestationObject []byte         `gorm:"column:attestation_object"`
	ClientData        []byte         `gorm:"column:client_data"`
	Status            string         `gorm:"column:status"`
	LastUsedAt        *time.Time     `gorm:"column:last_used_at"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (webAuthnRow) TableName() string { return "idp_webauthn_credentials" }

func webAuthnToRow(c goIdP.WebAuthnCredential) (webAuthnRow, error) {
	transports := c.Transports
	if transports == nil {
		transports = []string{}
	}
	raw, err := json.Marshal(transports)
	if err != nil {
		return webAuthnRow{}, err
	}
	return webAuthnRow{
		ID:                c.ID,
		RepositoryID:      c.RepositoryID,
		AccountID:         c.AccountID,
		UserID:            c.UserID,
		UserHandle:        c.UserHandle,
		CredentialID:      c.CredentialID,
		PublicKey:         c.PublicKeyCOSE,
		SignatureCount:    c.SignatureCount,
		AAGUID:            c.AAGUID,
		AttestationType:   c.AttestationType,
		Transports:        datatypes.JSON(raw),
		Discoverable:      c.Discoverable,
		UserVerified:      c.UserVerified,
		BackupEligible:    c.BackupEligible,
		BackupState:       c.BackupState,
		DisplayName:       c.DisplayName,
		AttestationObject: c.AttestationObject,
		ClientData:        c.ClientData,
		Status:            string(c.Status),
		LastUsedAt:        utcPtr(c.LastUsedAt),
		CreatedAt:         c.CreatedAt.UTC(),
		UpdatedAt:         c.UpdatedAt.UTC(),
	}, nil
}

func (r webAuthnRow) toDomain() goIdP.WebAuthnCredential {
	var transports []string
	if len(r.Transports) > 0 {
		_ = json.Unmarshal(r.Transports, &transports)
	}
	return goIdP.WebAuthnCredential{
		ID:                r.ID,
		RepositoryID:      r.RepositoryID,
		AccountID:         r.AccountID,
		UserID:            r.UserID,
		UserHandle:        r.UserHandle,
		CredentialID:      r.CredentialID,
		PublicKeyCOSE:     r.PublicKey,
		SignatureCount:    r.SignatureCount,
		AAGUID:            r.AAGUID,
		AttestationType:   r.AttestationType,
		Transports:        transports,
		Discoverable:      r.Discoverable,
		UserVerified:      r.UserVerified,
		BackupEligible:    r.BackupEligible,
		BackupState:       r.BackupState,
		DisplayName:       r.DisplayName,
		AttestationObject: r.AttestationObject,
		ClientData:        r.ClientData,
		Status:            goIdP.CredentialStatus(r.Status),
		LastUsedAt:        utcPtr(r.LastUsedAt),
		CreatedAt:         r.CreatedAt.UTC(),
		UpdatedAt:         r.UpdatedAt.UTC(),
	}
}

type resourceRow struct {
	UUID         string `gorm:"column:uuid;primaryKey"`
	Realm        string `gorm:"column:realm"`
	Authority    string `gorm:"column:authority"`
	Provider     string `gorm:"column:provider"`
	RepositoryID string `gorm:"column:repository_id"`
	ResourceID   string `gorm:"column:resource_id"`
	UserID       string `gorm:"column:user_id"`
	CreatedAt    time.Time
}

func (resourceRow) TableName() string { return "idp_resources" }

func nilIfEmpty(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

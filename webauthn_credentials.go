package goIdP

import (
	"context"
	"errors"
)

// EditCredential renames a credential of userID. Only the display name can
// change; markup is stripped and an empty result is rejected.
func (p *WebAuthnProvider) EditCredential(ctx context.Context, userID, id, displayName string) (WebAuthnCredentialView, error) {
	if p == nil || !p.ready() || p.credentials == nil {
		return WebAuthnCredentialView{}, ErrEngineNotReady
	}

	cred, err := p.ownedCredential(ctx, userID, id)
	if err != nil {
		return WebAuthnCredentialView{}, err
	}

	name := sanitizeDisplayName(displayName, p.config.WebAuthn.MaxDisplayNameLength)
	if name == "" {
		return WebAuthnCredentialView{}, InvalidData(FieldDisplayName)
	}

	updated, err := p.credentials.UpdateDisplayName(ctx, p.repositoryID, cred.ID, name)
	if err != nil {
		err = mapCredentialStoreError(err)
		p.emitAudit(ctx, auditEventCredentialEdited, false, cred.AccountID, userID, err, nil)
		return WebAuthnCredentialView{}, err
	}

	p.emitAudit(ctx, auditEventCredentialEdited, true, cred.AccountID, userID, nil, func() map[string]string {
		return map[string]string{
			"credential_id": cred.CredentialID,
		}
	})
	return webAuthnView(updated), nil
}

// DeleteCredential removes one credential of userID and its index entry.
func (p *WebAuthnProvider) DeleteCredential(ctx context.Context, userID, id string) error {
	if p == nil || !p.ready() || p.credentials == nil {
		return ErrEngineNotReady
	}

	cred, err := p.ownedCredential(ctx, userID, id)
	if err != nil {
		return err
	}
	if err := p.deleteCredential(ctx, cred); err != nil {
		p.emitAudit(ctx, auditEventCredentialDeleted, false, cred.AccountID, userID, err, nil)
		return err
	}
	return nil
}

// ListCredentialsByUser returns views of every credential userID registered
// with this provider.
func (p *WebAuthnProvider) ListCredentialsByUser(ctx context.Context, userID string) ([]WebAuthnCredentialView, error) {
	if p == nil || !p.ready() || p.credentials == nil {
		return nil, ErrEngineNotReady
	}
	if userID == "" {
		return nil, MissingData(FieldUserID)
	}

	creds, err := p.credentials.FindByUser(ctx, p.repositoryID, userID)
	if err != nil && !errors.Is(err, ErrRecordNotFound) {
		return nil, mapCredentialStoreError(err)
	}
	out := make([]WebAuthnCredentialView, 0, len(creds))
	for _, c := range creds {
		out = append(out, webAuthnView(c))
	}
	return out, nil
}

// DeleteCredentialsByUser removes every credential of userID. Accounts are
// left in place.
func (p *WebAuthnProvider) DeleteCredentialsByUser(ctx context.Context, userID string) error {
	if p == nil || !p.ready() || p.credentials == nil {
		return ErrEngineNotReady
	}
	if userID == "" {
		return MissingData(FieldUserID)
	}

	creds, err := p.credentials.FindByUser(ctx, p.repositoryID, userID)
	if err != nil && !errors.Is(err, ErrRecordNotFound) {
		return mapCredentialStoreError(err)
	}
	if err := p.credentials.DeleteByUser(ctx, p.repositoryID, userID); err != nil && !errors.Is(err, ErrRecordNotFound) {
		return mapCredentialStoreError(err)
	}
	for _, c := range creds {
		p.unindex(ctx, c.ID)
		p.metricInc(MetricWebAuthnCredentialDeleted)
	}
	return nil
}

// deleteWebAuthnCredentials is the account-deletion cascade: it removes the
// credentials bound to the account's user handle.
func (p *WebAuthnProvider) deleteWebAuthnCredentials(ctx context.Context, account Account) error {
	if len(account.UserHandle) == 0 {
		return nil
	}
	creds, err := p.credentials.FindByUserHandle(ctx, p.repositoryID, account.UserHandle)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil
		}
		return mapCredentialStoreError(err)
	}

	var errs []error
	for _, c := range creds {
		if err := p.deleteCredential(ctx, c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *WebAuthnProvider) relinkWebAuthnCredentials(ctx context.Context, account Account) error {
	if err := p.credentials.RebindUser(ctx, p.repositoryID, account.AccountID, account.UserID); err != nil {
		return mapCredentialStoreError(err)
	}
	if len(account.UserHandle) == 0 {
		return nil
	}
	creds, err := p.credentials.FindByUserHandle(ctx, p.repositoryID, account.UserHandle)
	if err != nil && !errors.Is(err, ErrRecordNotFound) {
		return mapCredentialStoreError(err)
	}
	for _, c := range creds {
		p.index(ctx, Resource{
			UUID:       c.ID,
			ResourceID: c.CredentialID,
			UserID:     c.UserID,
		})
	}
	return nil
}

func (p *WebAuthnProvider) deleteCredential(ctx context.Context, cred WebAuthnCredential) error {
	if err := p.credentials.Delete(ctx, p.repositoryID, cred.ID); err != nil && !errors.Is(err, ErrRecordNotFound) {
		return mapCredentialStoreError(err)
	}
	p.unindex(ctx, cred.ID)

	p.metricInc(MetricWebAuthnCredentialDeleted)
	p.emitAudit(ctx, auditEventCredentialDeleted, true, cred.AccountID, cred.UserID, nil, func() map[string]string {
		return map[string]string{
			"credential_id": cred.CredentialID,
		}
	})
	return nil
}

// ownedCredential loads credential id and checks that it belongs to userID.
// A credential of another user reads as missing.
func (p *WebAuthnProvider) ownedCredential(ctx context.Context, userID, id string) (WebAuthnCredential, error) {
	if userID == "" {
		return WebAuthnCredential{}, MissingData(FieldUserID)
	}
	if id == "" {
		return WebAuthnCredential{}, MissingData(FieldCredentialID)
	}
	cred, err := p.credentials.FindByID(ctx, p.repositoryID, id)
	if err != nil {
		return WebAuthnCredential{}, mapCredentialStoreError(err)
	}
	if cred.UserID != userID {
		return WebAuthnCredential{}, ErrNoSuchCredential
	}
	return cred, nil
}

package goIdP

import (
	"context"
	"errors"
	"fmt"

	internalflows "github.com/MrEthical07/goIdP/internal/flows"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// GetAccount returns the account stored under accountID.
func (e *Engine) GetAccount(ctx context.Context, accountID string) (Account, error) {
	if !e.ready() {
		return Account{}, ErrEngineNotReady
	}
	if accountID == "" {
		return Account{}, ErrNoSuchUser
	}
	account, err := e.accounts.FindByID(ctx, e.repositoryID, accountID)
	if err != nil {
		return Account{}, mapAccountStoreError(err)
	}
	return account, nil
}

// ListAccounts returns every account of userID in this provider.
func (e *Engine) ListAccounts(ctx context.Context, userID string) ([]Account, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if userID == "" {
		return nil, MissingData(FieldUserID)
	}
	accounts, err := e.accounts.FindByUser(ctx, e.repositoryID, userID)
	if err != nil {
		return nil, mapAccountStoreError(err)
	}
	return accounts, nil
}

// LockAccount moves an ACTIVE account to LOCKED. Locking a LOCKED account
// succeeds without a write; an INACTIVE account fails with [ErrIllegalState].
func (e *Engine) LockAccount(ctx context.Context, accountID string) (Account, error) {
	account, err := e.updateStatus(ctx, accountID, AccountLocked, false)
	if err == nil {
		e.metricInc(MetricAccountLocked)
	}
	e.emitAudit(ctx, auditEventAccountStatusChange, err == nil, accountID, account.UserID, err, func() map[string]string {
		return map[string]string{
			"action": "lock",
		}
	})
	return account, err
}

// UnlockAccount moves a LOCKED account back to ACTIVE. It never reactivates
// an INACTIVE account.
func (e *Engine) UnlockAccount(ctx context.Context, accountID string) (Account, error) {
	account, err := e.updateStatus(ctx, accountID, AccountActive, false)
	if err == nil {
		e.metricInc(MetricAccountUnlocked)
	}
	e.emitAudit(ctx, auditEventAccountStatusChange, err == nil, accountID, account.UserID, err, func() map[string]string {
		return map[string]string{
			"action": "unlock",
		}
	})
	return account, err
}

// UpdateAccountStatus sets the account status. An INACTIVE account may only
// be moved back to ACTIVE.
func (e *Engine) UpdateAccountStatus(ctx context.Context, accountID string, status AccountStatus) (Account, error) {
	if !status.Valid() {
		return Account{}, InvalidData(FieldStatus)
	}
	account, err := e.updateStatus(ctx, accountID, status, true)
	if err == nil {
		e.metricInc(MetricAccountStatusChanged)
	}
	e.emitAudit(ctx, auditEventAccountStatusChange, err == nil, accountID, account.UserID, err, func() map[string]string {
		return map[string]string{
			"action": "update",
			"status": string(status),
		}
	})
	return account, err
}

// LinkAccount rebinds the account, and the credentials it owns, to userID.
// If the credential rebind fails after the account row was written, the
// error wraps [ErrSystem] and repeating the call completes it.
func (e *Engine) LinkAccount(ctx context.Context, accountID, userID string) (Account, error) {
	if !e.ready() {
		return Account{}, ErrEngineNotReady
	}

	deps := internalflows.AccountLinkDeps[Account]{
		Tx:     e.accountTxDeps(accountID),
		Status: func(a Account) string { return string(a.Status) },
		UserID: func(a Account) string { return a.UserID },
		SetUserID: func(a Account, id string) Account {
			a.UserID = id
			a.UpdatedAt = e.clock()
			return a
		},
	}

	account, err := internalflows.RunLinkAccount(ctx, userID, deps)
	if err == nil {
		e.index(ctx, Resource{
			UUID:       account.UUID,
			ResourceID: account.AccountID,
			UserID:     account.UserID,
		})
		if e.relinkCredentials != nil {
			if relinkErr := e.relinkCredentials(ctx, account); relinkErr != nil {
				e.logger("link_account").WithFields(logrus.Fields{
					"account_id": accountID,
					"error":      relinkErr,
				}).Error("rebinding credentials failed")
				err = errors.Join(ErrSystem, relinkErr)
			}
		}
	}
	if err == nil {
		e.metricInc(MetricAccountLinked)
	}
	e.emitAudit(ctx, auditEventAccountLinked, err == nil, accountID, userID, err, nil)
	return account, err
}

// DeleteAccount removes the account together with its credentials and index
// entries. Deleting a missing account succeeds.
func (e *Engine) DeleteAccount(ctx context.Context, accountID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	account, err := e.accounts.FindByID(ctx, e.repositoryID, accountID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil
		}
		return mapAccountStoreError(err)
	}
	return e.deleteAccount(ctx, account)
}

// DeleteAccounts removes every account of userID in this provider.
func (e *Engine) DeleteAccounts(ctx context.Context, userID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if userID == "" {
		return MissingData(FieldUserID)
	}
	accounts, err := e.accounts.FindByUser(ctx, e.repositoryID, userID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil
		}
		return mapAccountStoreError(err)
	}

	var errs []error
	for _, account := range accounts {
		if err := e.deleteAccount(ctx, account); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) deleteAccount(ctx context.Context, account Account) error {
	if e.deleteCredentials != nil {
		if err := e.deleteCredentials(ctx, account); err != nil {
			e.emitAudit(ctx, auditEventAccountDeleted, false, account.AccountID, account.UserID, err, nil)
			return err
		}
	}
	if err := e.accounts.Delete(ctx, e.repositoryID, account.AccountID); err != nil && !errors.Is(err, ErrRecordNotFound) {
		err = mapAccountStoreError(err)
		e.emitAudit(ctx, auditEventAccountDeleted, false, account.AccountID, account.UserID, err, nil)
		return err
	}
	e.unindex(ctx, account.UUID)

	e.metricInc(MetricAccountDeleted)
	e.emitAudit(ctx, auditEventAccountDeleted, true, account.AccountID, account.UserID, nil, nil)
	return nil
}

func (e *Engine) updateStatus(ctx context.Context, accountID string, status AccountStatus, reactivate bool) (Account, error) {
	if !e.ready() {
		return Account{}, ErrEngineNotReady
	}

	deps := internalflows.AccountStatusDeps[Account]{
		Tx:     e.accountTxDeps(accountID),
		Status: func(a Account) string { return string(a.Status) },
		SetStatus: func(a Account, s string) Account {
			a.Status = AccountStatus(s)
			a.UpdatedAt = e.clock()
			return a
		},
	}
	return internalflows.RunUpdateAccountStatus(ctx, string(status), reactivate, deps)
}

func (e *Engine) accountTxDeps(accountID string) internalflows.AccountTxDeps[Account] {
	return internalflows.AccountTxDeps[Account]{
		MaxRetries: e.config.Account.MaxUpdateRetries,
		Load: func(ctx context.Context) (Account, error) {
			if accountID == "" {
				return Account{}, ErrRecordNotFound
			}
			return e.accounts.FindByID(ctx, e.repositoryID, accountID)
		},
		Store: func(ctx context.Context, next, current Account) (Account, error) {
			return e.accounts.Update(ctx, next, current.Version)
		},
		IsNotFound: func(err error) bool { return errors.Is(err, ErrRecordNotFound) },
		IsConflict: func(err error) bool { return errors.Is(err, ErrVersionConflict) },
		Errors: internalflows.AccountErrors{
			EngineNotReady: ErrEngineNotReady,
			NotFound:       ErrNoSuchUser,
			IllegalState:   ErrIllegalState,
			MissingUserID:  MissingData(FieldUserID),
			Conflict:       fmt.Errorf("%w: account update retries exhausted", ErrVersionConflict),
		},
	}
}

// newAccount builds an ACTIVE account for this provider. The caller stores it
// through addAccount.
func (e *Engine) newAccount(accountID, userID, username string) Account {
	now := e.clock()
	return Account{
		Authority:    e.authority,
		Provider:     e.config.ProviderID,
		Realm:        e.config.Realm,
		RepositoryID: e.repositoryID,
		AccountID:    accountID,
		UUID:         uuid.NewString(),
		UserID:       userID,
		Username:     username,
		Status:       AccountActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (e *Engine) addAccount(ctx context.Context, account Account) (Account, error) {
	stored, err := e.accounts.Add(ctx, account)
	if err != nil {
		return Account{}, err
	}
	e.index(ctx, Resource{
		UUID:       stored.UUID,
		ResourceID: stored.AccountID,
		UserID:     stored.UserID,
	})
	return stored, nil
}

// index records a subject resource. The index is secondary data, so failures
// are logged and swallowed.
func (e *Engine) index(ctx context.Context, r Resource) {
	if e.resources == nil || r.UUID == "" {
		return
	}
	r.Realm = e.config.Realm
	r.Authority = e.authority
	r.Provider = e.config.ProviderID
	r.RepositoryID = e.repositoryID
	if err := e.resources.Put(ctx, r); err != nil {
		e.logger("index").WithFields(logrus.Fields{
			"resource_id": r.ResourceID,
			"error":       err,
		}).Warn("resource index put failed")
	}
}

func (e *Engine) unindex(ctx context.Context, id string) {
	if e.resources == nil || id == "" {
		return
	}
	if err := e.resources.Remove(ctx, id); err != nil {
		e.logger("unindex").WithFields(logrus.Fields{
			"uuid":  id,
			"error": err,
		}).Warn("resource index remove failed")
	}
}

func mapAccountStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrRecordNotFound):
		return ErrNoSuchUser
	case errors.Is(err, ErrStoreUnavailable):
		return errors.Join(ErrSystem, err)
	default:
		return err
	}
}

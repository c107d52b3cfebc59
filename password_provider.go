package goIdP

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goIdP/internal"
	internalflows "github.com/MrEthical07/goIdP/internal/flows"
	"github.com/MrEthical07/goIdP/internal/limiters"
	"github.com/MrEthical07/goIdP/password"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// PasswordProvider manages password credentials for one provider. Password
// accounts are keyed by username: the account id is the login name.
//
// PasswordProvider instances are created by [Builder.BuildPassword] and are
// safe for concurrent use.
type PasswordProvider struct {
	*Engine

	credentials  PasswordCredentialStore
	hasher       *password.Policy
	dummyHash    string
	notifier     NotificationService
	realms       RealmResolver
	resetLimiter *limiters.PasswordResetLimiter
}

// VerifyPassword reports whether plaintext matches any ACTIVE, non-expired
// credential of the account. It fails with [ErrNoSuchUser] for an unknown
// username; a wrong password is (false, nil).
//
// The account status is not checked: a LOCKED or INACTIVE account with a
// matching password still yields true. Callers that gate login on the account
// status use [PasswordProvider.VerifyPasswordDetailed] and inspect
// AccountStatus.
func (p *PasswordProvider) VerifyPassword(ctx context.Context, username, plaintext string) (bool, error) {
	res, err := p.VerifyPasswordDetailed(ctx, username, plaintext)
	if err != nil {
		return false, err
	}
	return res.Valid, nil
}

// VerifyPasswordDetailed is VerifyPassword that also reports which credential
// matched, whether it must be changed on first access and the account status.
func (p *PasswordProvider) VerifyPasswordDetailed(ctx context.Context, username, plaintext string) (PasswordVerification, error) {
	if p == nil || !p.ready() || p.credentials == nil || p.hasher == nil {
		return PasswordVerification{}, ErrEngineNotReady
	}
	start := time.Now()
	defer p.observe(MetricPasswordVerifyLatency, start)

	res, err := internalflows.RunVerifyPassword(ctx, username, plaintext, p.verifyFlowDeps())
	if err != nil {
		return PasswordVerification{}, err
	}

	if res.Valid && p.config.Password.UpgradeOnVerify {
		p.upgradeHash(ctx, res, plaintext)
	}

	return PasswordVerification{
		Valid:          res.Valid,
		ChangeRequired: res.ChangeRequired,
		CredentialID:   res.CredentialID,
		AccountStatus:  AccountStatus(res.Account.Status),
	}, nil
}

// SetPassword installs newPassword as the single ACTIVE credential of the
// account. Any other ACTIVE credential, including one soft-locked by a reset
// confirmation, is deactivated.
func (p *PasswordProvider) SetPassword(ctx context.Context, accountID, newPassword string) (PasswordCredentialView, error) {
	if p == nil || !p.ready() || p.credentials == nil || p.hasher == nil {
		return PasswordCredentialView{}, ErrEngineNotReady
	}
	if err := p.checkPolicy(newPassword); err != nil {
		p.emitAudit(ctx, auditEventPasswordSet, false, accountID, "", err, nil)
		return PasswordCredentialView{}, err
	}

	account, err := p.GetAccount(ctx, accountID)
	if err != nil {
		return PasswordCredentialView{}, err
	}

	created, err := p.addCredential(ctx, account, newPassword, false)
	if err != nil {
		p.emitAudit(ctx, auditEventPasswordSet, false, account.AccountID, account.UserID, err, nil)
		return PasswordCredentialView{}, err
	}

	if err := p.deactivateOthers(ctx, account.AccountID, created.ID); err != nil {
		p.logger("set_password").WithFields(logrus.Fields{
			"account_id": account.AccountID,
			"error":      err,
		}).Error("deactivating previous credentials failed")
		p.emitAudit(ctx, auditEventPasswordSet, false, account.AccountID, account.UserID, err, nil)
		return passwordView(created), err
	}

	p.metricInc(MetricPasswordSet)
	p.emitAudit(ctx, auditEventPasswordSet, true, account.AccountID, account.UserID, nil, func() map[string]string {
		return map[string]string{
			"credential_id": created.ID,
		}
	})
	return passwordView(created), nil
}

// RevokePassword moves an ACTIVE credential to REVOKED.
func (p *PasswordProvider) RevokePassword(ctx context.Context, credentialID string) (PasswordCredentialView, error) {
	if p == nil || !p.ready() || p.credentials == nil {
		return PasswordCredentialView{}, ErrEngineNotReady
	}

	revoked, err := p.updateCredential(ctx, credentialID, func(c PasswordCredential) (PasswordCredential, bool, error) {
		if c.Status != CredentialActive {
			return c, false, ErrIllegalState
		}
		c.Status = CredentialRevoked
		c.ResetKeyHash = ""
		c.ResetDeadline = nil
		return c, true, nil
	})
	if err == nil {
		p.metricInc(MetricPasswordRevoked)
	}
	p.emitAudit(ctx, auditEventPasswordRevoked, err == nil, revoked.AccountID, revoked.UserID, err, func() map[string]string {
		return map[string]string{
			"credential_id": credentialID,
		}
	})
	if err != nil {
		return PasswordCredentialView{}, err
	}
	return passwordView(revoked), nil
}

// ListPasswordCredentials returns the credentials of userID in every state.
func (p *PasswordProvider) ListPasswordCredentials(ctx context.Context, userID string) ([]PasswordCredentialView, error) {
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
	out := make([]PasswordCredentialView, 0, len(creds))
	for _, c := range creds {
		out = append(out, passwordView(c))
	}
	return out, nil
}

// CreateAccount registers a password account for userID with username as
// its account id and sets its first password.
func (p *PasswordProvider) CreateAccount(ctx context.Context, userID, username, email, plaintext string) (Account, error) {
	if p == nil || !p.ready() || p.credentials == nil || p.hasher == nil {
		return Account{}, ErrEngineNotReady
	}
	if userID == "" {
		return Account{}, MissingData(FieldUserID)
	}
	if username == "" {
		return Account{}, MissingData(FieldUsername)
	}
	if err := p.checkPolicy(plaintext); err != nil {
		return Account{}, err
	}

	account := p.newAccount(username, userID, username)
	account.Email = email
	stored, err := p.addAccount(ctx, account)
	if err != nil {
		if errors.Is(err, ErrDuplicateRecord) {
			return Account{}, ErrAlreadyRegistered
		}
		return Account{}, mapAccountStoreError(err)
	}
	if _, err := p.addCredential(ctx, stored, plaintext, false); err != nil {
		return Account{}, err
	}
	return stored, nil
}

func (p *PasswordProvider) verifyFlowDeps() internalflows.PasswordVerifyDeps {
	now := p.clock()
	return internalflows.PasswordVerifyDeps{
		FindAccount: func(ctx context.Context, username string) (internalflows.PasswordAccount, error) {
			account, err := p.accounts.FindByID(ctx, p.repositoryID, username)
			if err != nil {
				return internalflows.PasswordAccount{}, err
			}
			return toPasswordAccount(account), nil
		},
		ListCandidates: func(ctx context.Context, accountID string) ([]internalflows.PasswordCandidate, error) {
			creds, err := p.credentials.FindByAccount(ctx, p.repositoryID, accountID)
			if err != nil {
				if errors.Is(err, ErrRecordNotFound) {
					return nil, nil
				}
				return nil, mapCredentialStoreError(err)
			}
			out := make([]internalflows.PasswordCandidate, 0, len(creds))
			for _, c := range creds {
				out = append(out, internalflows.PasswordCandidate{
					ID:                  c.ID,
					Hash:                c.PasswordHash,
					Active:              c.Status == CredentialActive,
					Expired:             c.Expired(now),
					ChangeOnFirstAccess: c.ChangeOnFirstAccess,
				})
			}
			return out, nil
		},
		Compare: p.hasher.Verify,
		DummyCompare: func(plaintext string) {
			_, _ = p.hasher.Verify(plaintext, p.dummyHash)
		},
		MarkExpired: func(ctx context.Context, id string) error {
			_, err := p.updateCredential(ctx, id, func(c PasswordCredential) (PasswordCredential, bool, error) {
				if c.Status != CredentialActive {
					return c, false, nil
				}
				c.Status = CredentialExpired
				return c, true, nil
			})
			return err
		},
		IsNotFound: func(err error) bool { return errors.Is(err, ErrRecordNotFound) },
		OnBackgroundErr: func(_ context.Context, op string, err error) {
			p.logger(op).WithError(err).Warn("password background update failed")
		},
		MetricInc: func(id int) {
			p.metricInc(MetricID(id))
		},
		EmitAudit: p.emitAudit,
		Metrics: internalflows.PasswordVerifyMetrics{
			VerifySuccess: int(MetricPasswordVerifySuccess),
			VerifyFailure: int(MetricPasswordVerifyFailure),
			Expired:       int(MetricPasswordExpired),
		},
		Events: internalflows.PasswordVerifyEvents{
			Verify:  auditEventPasswordVerify,
			Expired: auditEventPasswordExpired,
		},
		Errors: internalflows.PasswordVerifyErrors{
			EngineNotReady: ErrEngineNotReady,
			NoSuchUser:     ErrNoSuchUser,
			System:         ErrSystem,
		},
	}
}

// upgradeHash rehashes the matched credential with the current parameters.
// It is best-effort: a lost race or a store failure leaves the old hash.
func (p *PasswordProvider) upgradeHash(ctx context.Context, res internalflows.PasswordVerifyResult, plaintext string) {
	needs, err := p.hasher.NeedsUpgrade(res.Hash)
	if err != nil || !needs {
		return
	}
	hash, err := p.hasher.Hash(plaintext)
	if err != nil {
		return
	}

	_, err = p.updateCredential(ctx, res.CredentialID, func(c PasswordCredential) (PasswordCredential, bool, error) {
		if c.PasswordHash != res.Hash || c.Status != CredentialActive {
			return c, false, nil
		}
		c.PasswordHash = hash
		return c, true, nil
	})
	if err != nil {
		p.logger("rehash").WithFields(logrus.Fields{
			"account_id": res.Account.AccountID,
			"error":      err,
		}).Warn("password rehash failed")
		return
	}
	p.metricInc(MetricPasswordRehashed)
	p.emitAudit(ctx, auditEventPasswordRehashed, true, res.Account.AccountID, res.Account.UserID, nil, func() map[string]string {
		return map[string]string{
			"credential_id": res.CredentialID,
			"algorithm":     p.hasher.Algorithm(),
		}
	})
}

func (p *PasswordProvider) checkPolicy(plaintext string) error {
	n := len([]rune(plaintext))
	if n < p.config.Password.MinLength || n > p.config.Password.MaxLength {
		return fmt.Errorf("%w: %w", ErrPasswordPolicy, InvalidData(FieldPassword))
	}
	return nil
}

func (p *PasswordProvider) addCredential(ctx context.Context, account Account, plaintext string, temporary bool) (PasswordCredential, error) {
	hash, err := p.hasher.Hash(plaintext)
	if err != nil {
		return PasswordCredential{}, errors.Join(ErrSystem, err)
	}

	now := p.clock()
	cred := PasswordCredential{
		ID:                  uuid.NewString(),
		RepositoryID:        p.repositoryID,
		AccountID:           account.AccountID,
		UserID:              account.UserID,
		PasswordHash:        hash,
		Status:              CredentialActive,
		ChangeOnFirstAccess: temporary,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if maxAge := p.config.Password.MaxAge; maxAge > 0 {
		exp := now.Add(maxAge)
		cred.ExpirationDate = &exp
	}

	stored, err := p.credentials.Add(ctx, cred)
	if err != nil {
		return PasswordCredential{}, mapCredentialStoreError(err)
	}
	p.index(ctx, Resource{
		UUID:       stored.ID,
		ResourceID: stored.ID,
		UserID:     stored.UserID,
	})
	return stored, nil
}

func (p *PasswordProvider) deactivateOthers(ctx context.Context, accountID, keepID string) error {
	creds, err := p.credentials.FindByAccount(ctx, p.repositoryID, accountID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil
		}
		return mapCredentialStoreError(err)
	}

	var errs []error
	for _, c := range creds {
		if c.ID == keepID || c.Status != CredentialActive {
			continue
		}
		_, err := p.updateCredential(ctx, c.ID, func(cur PasswordCredential) (PasswordCredential, bool, error) {
			if cur.Status != CredentialActive {
				return cur, false, nil
			}
			cur.Status = CredentialInactive
			cur.ResetKeyHash = ""
			cur.ResetDeadline = nil
			return cur, true, nil
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// updateCredential applies mutate to one credential row with the same
// optimistic retry loop used for accounts.
func (p *PasswordProvider) updateCredential(
	ctx context.Context,
	id string,
	mutate func(PasswordCredential) (PasswordCredential, bool, error),
) (PasswordCredential, error) {
	deps := internalflows.AccountTxDeps[PasswordCredential]{
		MaxRetries: p.config.Account.MaxUpdateRetries,
		Load: func(ctx context.Context) (PasswordCredential, error) {
			return p.credentials.FindByID(ctx, p.repositoryID, id)
		},
		Store: func(ctx context.Context, next, current PasswordCredential) (PasswordCredential, error) {
			next.UpdatedAt = p.clock()
			return p.credentials.Update(ctx, next, current.Version)
		},
		IsNotFound: func(err error) bool { return errors.Is(err, ErrRecordNotFound) },
		IsConflict: func(err error) bool { return errors.Is(err, ErrVersionConflict) },
		Errors: internalflows.AccountErrors{
			EngineNotReady: ErrEngineNotReady,
			NotFound:       ErrNoSuchCredential,
			IllegalState:   ErrIllegalState,
			Conflict:       fmt.Errorf("%w: credential update retries exhausted", ErrVersionConflict),
		},
	}
	return internalflows.RunAccountTx(ctx, deps, mutate)
}

func (p *PasswordProvider) deletePasswordCredentials(ctx context.Context, account Account) error {
	creds, err := p.credentials.FindByAccount(ctx, p.repositoryID, account.AccountID)
	if err != nil && !errors.Is(err, ErrRecordNotFound) {
		return mapCredentialStoreError(err)
	}
	if err := p.credentials.DeleteByAccount(ctx, p.repositoryID, account.AccountID); err != nil && !errors.Is(err, ErrRecordNotFound) {
		return mapCredentialStoreError(err)
	}
	for _, c := range creds {
		p.unindex(ctx, c.ID)
	}
	return nil
}

func (p *PasswordProvider) relinkPasswordCredentials(ctx context.Context, account Account) error {
	if err := p.credentials.RebindUser(ctx, p.repositoryID, account.AccountID, account.UserID); err != nil {
		return mapCredentialStoreError(err)
	}
	creds, err := p.credentials.FindByAccount(ctx, p.repositoryID, account.AccountID)
	if err != nil && !errors.Is(err, ErrRecordNotFound) {
		return mapCredentialStoreError(err)
	}
	for _, c := range creds {
		p.index(ctx, Resource{
			UUID:       c.ID,
			ResourceID: c.ID,
			UserID:     c.UserID,
		})
	}
	return nil
}

func toPasswordAccount(a Account) internalflows.PasswordAccount {
	username := a.Username
	if username == "" {
		username = a.AccountID
	}
	return internalflows.PasswordAccount{
		AccountID: a.AccountID,
		UserID:    a.UserID,
		Username:  username,
		Email:     a.Email,
		Status:    string(a.Status),
	}
}

func mapCredentialStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrRecordNotFound):
		return ErrNoSuchCredential
	case errors.Is(err, ErrDuplicateRecord):
		return ErrAlreadyRegistered
	case errors.Is(err, ErrStoreUnavailable):
		return errors.Join(ErrSystem, err)
	default:
		return err
	}
}

func newDummyHash(h *password.Policy) (string, error) {
	secret, err := internal.NewTemporaryPassword(24)
	if err != nil {
		return "", err
	}
	return h.Hash(secret)
}

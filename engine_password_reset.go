package goIdP

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/MrEthical07/goIdP/internal"
	internalflows "github.com/MrEthical07/goIdP/internal/flows"
	"github.com/MrEthical07/goIdP/internal/limiters"
	"github.com/sirupsen/logrus"
)

// RequestPasswordReset issues a single-use reset key for the account and
// sends it through the notification service. The returned view carries the
// raw key; the store only ever sees its digest. A notification failure is
// logged and does not fail the request.
func (p *PasswordProvider) RequestPasswordReset(ctx context.Context, username string) (PasswordCredentialView, error) {
	if p == nil || !p.ready() {
		return PasswordCredentialView{}, ErrEngineNotReady
	}
	issued, err := internalflows.RunRequestPasswordReset(ctx, username, p.passwordResetFlowDeps())
	if err != nil {
		return PasswordCredentialView{}, err
	}

	view := passwordView(issued.Credential)
	view.ResetKey = issued.Key
	deadline := issued.Deadline
	view.ResetDeadline = &deadline
	return view, nil
}

// VerifyPasswordReset checks key without consuming it. An unknown key fails
// with an error matching both [ErrNoSuchCredential] and [ErrInvalidData]; any
// other failure is InvalidData("key"). Both read "invalid or expired key".
func (p *PasswordProvider) VerifyPasswordReset(ctx context.Context, key string) (PasswordCredentialView, error) {
	if p == nil || !p.ready() {
		return PasswordCredentialView{}, ErrEngineNotReady
	}
	if err := p.checkConfirmLimiter(ctx); err != nil {
		return PasswordCredentialView{}, err
	}
	cred, err := internalflows.RunVerifyPasswordReset(ctx, key, p.passwordResetFlowDeps())
	if err != nil {
		return PasswordCredentialView{}, err
	}
	return passwordView(cred), nil
}

// ConfirmPasswordReset consumes key: the key and deadline are cleared and the
// credential becomes INACTIVE in one conditional write. The account then has
// no usable password until [PasswordProvider.SetPassword] installs one.
func (p *PasswordProvider) ConfirmPasswordReset(ctx context.Context, key string) (PasswordCredentialView, error) {
	if p == nil || !p.ready() {
		return PasswordCredentialView{}, ErrEngineNotReady
	}
	if err := p.checkConfirmLimiter(ctx); err != nil {
		return PasswordCredentialView{}, err
	}
	cred, err := internalflows.RunConfirmPasswordReset(ctx, key, p.passwordResetFlowDeps())
	if err != nil {
		return PasswordCredentialView{}, err
	}
	return passwordView(cred), nil
}

func (p *PasswordProvider) checkConfirmLimiter(ctx context.Context) error {
	if p.resetLimiter == nil {
		return nil
	}
	if err := p.resetLimiter.CheckConfirm(ctx, clientIPFromContext(ctx)); err != nil {
		mapped := mapPasswordResetLimiterError(err)
		if errors.Is(mapped, ErrPasswordResetRateLimited) {
			p.metricInc(MetricPasswordResetRateLimited)
			p.emitRateLimit(ctx, "password_reset_confirm", nil)
		}
		return mapped
	}
	return nil
}

func (p *PasswordProvider) passwordResetFlowDeps() internalflows.PasswordResetDeps[PasswordCredential] {
	cfg := p.config

	deps := internalflows.PasswordResetDeps[PasswordCredential]{
		Enabled:             cfg.PasswordReset.Enabled,
		ResetTTL:            cfg.PasswordReset.ResetTTL,
		MaxRetries:          cfg.Account.MaxUpdateRetries,
		ClientIPFromContext: clientIPFromContext,
		Now:                 p.clock,
		MapLimiterError:     mapPasswordResetLimiterError,
		IsNotFound: func(err error) bool {
			return errors.Is(err, ErrRecordNotFound)
		},
		IsConflict: func(err error) bool {
			return errors.Is(err, ErrVersionConflict)
		},
		FindAccount: func(ctx context.Context, username string) (internalflows.PasswordAccount, error) {
			account, err := p.accounts.FindByID(ctx, p.repositoryID, username)
			if err != nil {
				return internalflows.PasswordAccount{}, err
			}
			return toPasswordAccount(account), nil
		},
		ListCredentials: func(ctx context.Context, accountID string) ([]PasswordCredential, error) {
			creds, err := p.credentials.FindByAccount(ctx, p.repositoryID, accountID)
			if errors.Is(err, ErrRecordNotFound) {
				return nil, nil
			}
			return creds, err
		},
		CreateCredential: func(ctx context.Context, account internalflows.PasswordAccount) (PasswordCredential, error) {
			temp, err := internal.NewTemporaryPassword(cfg.Password.TemporaryLength)
			if err != nil {
				return PasswordCredential{}, errors.Join(ErrSystem, err)
			}
			return p.addCredential(ctx, Account{AccountID: account.AccountID, UserID: account.UserID}, temp, true)
		},
		FindByKeyHash: func(ctx context.Context, keyHash string) (PasswordCredential, error) {
			return p.credentials.FindByResetKey(ctx, p.repositoryID, keyHash)
		},
		StoreCredential: func(ctx context.Context, next, current PasswordCredential) (PasswordCredential, error) {
			next.UpdatedAt = p.clock()
			return p.credentials.Update(ctx, next, current.Version)
		},
		CredentialID: func(c PasswordCredential) string { return c.ID },
		AccountID:    func(c PasswordCredential) string { return c.AccountID },
		UserID:       func(c PasswordCredential) string { return c.UserID },
		IsActive:     func(c PasswordCredential) bool { return c.Status == CredentialActive },
		KeyHash:      func(c PasswordCredential) string { return c.ResetKeyHash },
		Deadline:     func(c PasswordCredential) *time.Time { return c.ResetDeadline },
		ApplyResetKey: func(c PasswordCredential, keyHash string, deadline time.Time) PasswordCredential {
			c.ResetKeyHash = keyHash
			c.ResetDeadline = &deadline
			return c
		},
		ConsumeKey: func(c PasswordCredential) PasswordCredential {
			c.ResetKeyHash = ""
			c.ResetDeadline = nil
			c.Status = CredentialInactive
			return c
		},
		GenerateKey: func() (string, error) {
			return internal.NewResetKey(cfg.PasswordReset.KeyLength)
		},
		HashKey: internal.HashResetKey,
		OnNotifyErr: func(_ context.Context, account internalflows.PasswordAccount, err error) {
			p.logger("password_reset_notify").WithFields(logrus.Fields{
				"account_id": account.AccountID,
				"error":      err,
			}).Warn("reset notification failed")
		},
		MetricInc: func(id int) {
			p.metricInc(MetricID(id))
		},
		EmitAudit:     p.emitAudit,
		EmitRateLimit: p.emitRateLimit,
		Metrics: internalflows.PasswordResetMetrics{
			PasswordResetRequest:        int(MetricPasswordResetRequest),
			PasswordResetVerify:         int(MetricPasswordResetVerify),
			PasswordResetConfirmSuccess: int(MetricPasswordResetConfirmSuccess),
			PasswordResetConfirmFailure: int(MetricPasswordResetConfirmFailure),
			PasswordResetRateLimited:    int(MetricPasswordResetRateLimited),
			PasswordResetNotifyFailure:  int(MetricPasswordResetNotifyFailure),
		},
		Events: internalflows.PasswordResetEvents{
			PasswordResetRequest: auditEventPasswordResetRequest,
			PasswordResetVerify:  auditEventPasswordResetVerify,
			PasswordResetConfirm: auditEventPasswordResetConfirm,
			PasswordResetNotify:  auditEventPasswordResetNotify,
		},
		Errors: internalflows.PasswordResetErrors{
			EngineNotReady:           ErrEngineNotReady,
			PasswordResetDisabled:    ErrPasswordResetDisabled,
			PasswordResetRateLimited: ErrPasswordResetRateLimited,
			NoSuchUser:               ErrNoSuchUser,
			UnknownKey:               errUnknownResetKey,
			InvalidKey:               InvalidData(FieldKey),
			Conflict:                 fmt.Errorf("%w: reset retries exhausted", ErrVersionConflict),
		},
	}

	if p.resetLimiter != nil {
		deps.CheckRequestLimiter = p.resetLimiter.CheckRequest
	}
	if p.notifier != nil {
		deps.Notify = p.sendResetNotification
	}

	return deps
}

func (p *PasswordProvider) sendResetNotification(ctx context.Context, account internalflows.PasswordAccount, key string, deadline time.Time) error {
	if account.Email == "" {
		return errors.New("account has no email address")
	}

	link, err := resetLink(p.config.PasswordReset, key)
	if err != nil {
		return err
	}

	realmName := p.config.Realm
	if p.realms != nil {
		info, err := p.realms.FindRealm(ctx, p.config.Realm)
		if err != nil {
			p.logger("password_reset_notify").WithError(err).Warn("realm lookup failed")
		} else if info.Name != "" {
			realmName = info.Name
		}
	}

	vars := map[string]any{
		"realm":     p.config.Realm,
		"realmName": realmName,
		"username":  account.Username,
		"link":      link,
		"expiresAt": deadline.Format(time.RFC3339),
	}
	return p.notifier.Send(ctx, account.Email, p.config.PasswordReset.Template, localeFromContext(ctx), vars)
}

// resetLink appends the raw key to LinkBaseURL as the LinkParam query
// parameter. An empty base yields an empty link.
func resetLink(cfg PasswordResetConfig, key string) (string, error) {
	if cfg.LinkBaseURL == "" {
		return "", nil
	}
	u, err := url.Parse(cfg.LinkBaseURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set(cfg.LinkParam, key)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func mapPasswordResetLimiterError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, limiters.ErrResetRateLimited):
		return ErrPasswordResetRateLimited
	case errors.Is(err, limiters.ErrResetRedisUnavailable):
		return errors.Join(ErrSystem, err)
	default:
		return err
	}
}

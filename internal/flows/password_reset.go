package flows

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"
)

type PasswordResetMetrics struct {
	PasswordResetRequest        int
	PasswordResetVerify         int
	PasswordResetConfirmSuccess int
	PasswordResetConfirmFailure int
	PasswordResetRateLimited    int
	PasswordResetNotifyFailure  int
}

type PasswordResetEvents struct {
	PasswordResetRequest string
	PasswordResetVerify  string
	PasswordResetConfirm string
	PasswordResetNotify  string
}

type PasswordResetErrors struct {
	EngineNotReady           error
	PasswordResetDisabled    error
	PasswordResetRateLimited error
	NoSuchUser               error
	UnknownKey               error
	InvalidKey               error
	Conflict                 error
}

// PasswordResetDeps wires the reset flows to one credential type C. The
// accessor closures keep this package free of the root record types.
type PasswordResetDeps[C any] struct {
	Enabled    bool
	ResetTTL   time.Duration
	MaxRetries int

	ClientIPFromContext func(context.Context) string
	Now                 func() time.Time

	CheckRequestLimiter func(ctx context.Context, identifier, ip string) error
	MapLimiterError     func(error) error
	IsNotFound          func(error) bool
	IsConflict          func(error) bool

	FindAccount      func(ctx context.Context, username string) (PasswordAccount, error)
	ListCredentials  func(ctx context.Context, accountID string) ([]C, error)
	CreateCredential func(ctx context.Context, account PasswordAccount) (C, error)
	FindByKeyHash    func(ctx context.Context, keyHash string) (C, error)
	StoreCredential  func(ctx context.Context, next, current C) (C, error)

	CredentialID  func(C) string
	AccountID     func(C) string
	UserID        func(C) string
	IsActive      func(C) bool
	KeyHash       func(C) string
	Deadline      func(C) *time.Time
	ApplyResetKey func(c C, keyHash string, deadline time.Time) C
	ConsumeKey    func(C) C

	GenerateKey func() (string, error)
	HashKey     func(string) string

	Notify      func(ctx context.Context, account PasswordAccount, key string, deadline time.Time) error
	OnNotifyErr func(ctx context.Context, account PasswordAccount, err error)

	MetricInc     func(int)
	EmitAudit     func(context.Context, string, bool, string, string, error, func() map[string]string)
	EmitRateLimit func(context.Context, string, func() map[string]string)

	Metrics PasswordResetMetrics
	Events  PasswordResetEvents
	Errors  PasswordResetErrors
}

type PasswordResetIssued[C any] struct {
	Credential C
	Key        string
	Deadline   time.Time
}

func RunRequestPasswordReset[C any](ctx context.Context, username string, deps PasswordResetDeps[C]) (PasswordResetIssued[C], error) {
	normalizePasswordResetDeps(&deps)
	var zero PasswordResetIssued[C]

	if !deps.Enabled {
		deps.EmitAudit(ctx, deps.Events.PasswordResetRequest, false, "", "", deps.Errors.PasswordResetDisabled, nil)
		return zero, deps.Errors.PasswordResetDisabled
	}
	if deps.FindAccount == nil || deps.ListCredentials == nil || deps.CreateCredential == nil ||
		deps.StoreCredential == nil || deps.GenerateKey == nil || deps.HashKey == nil ||
		deps.IsActive == nil || deps.ApplyResetKey == nil || deps.CredentialID == nil {
		return zero, deps.Errors.EngineNotReady
	}
	if username == "" {
		return zero, deps.Errors.NoSuchUser
	}

	ip := deps.ClientIPFromContext(ctx)
	if deps.CheckRequestLimiter != nil {
		if err := deps.CheckRequestLimiter(ctx, username, ip); err != nil {
			mapped := deps.MapLimiterError(err)
			if errors.Is(mapped, deps.Errors.PasswordResetRateLimited) {
				deps.MetricInc(deps.Metrics.PasswordResetRateLimited)
				deps.EmitRateLimit(ctx, "password_reset_request", func() map[string]string {
					return map[string]string{
						"identifier": username,
					}
				})
			}
			deps.EmitAudit(ctx, deps.Events.PasswordResetRequest, false, username, "", mapped, nil)
			return zero, mapped
		}
	}

	account, err := deps.FindAccount(ctx, username)
	if err != nil {
		if deps.IsNotFound(err) {
			deps.EmitAudit(ctx, deps.Events.PasswordResetRequest, false, username, "", deps.Errors.NoSuchUser, nil)
			return zero, deps.Errors.NoSuchUser
		}
		return zero, err
	}
	if account.UserID == "" {
		return zero, deps.Errors.NoSuchUser
	}

	var issued PasswordResetIssued[C]
	stored := false
	for attempt := 0; attempt < deps.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		current, err := deps.activeCredential(ctx, account)
		if err != nil {
			return zero, err
		}

		key, err := deps.GenerateKey()
		if err != nil {
			return zero, err
		}
		deadline := deps.Now().Add(deps.ResetTTL)

		next := deps.ApplyResetKey(current, deps.HashKey(key), deadline)
		saved, err := deps.StoreCredential(ctx, next, current)
		if err != nil {
			if deps.IsConflict(err) {
				continue
			}
			deps.EmitAudit(ctx, deps.Events.PasswordResetRequest, false, account.AccountID, account.UserID, err, nil)
			return zero, err
		}

		issued = PasswordResetIssued[C]{Credential: saved, Key: key, Deadline: deadline}
		stored = true
		break
	}
	if !stored {
		return zero, deps.Errors.Conflict
	}

	if deps.Notify != nil {
		if err := deps.Notify(ctx, account, issued.Key, issued.Deadline); err != nil {
			deps.MetricInc(deps.Metrics.PasswordResetNotifyFailure)
			deps.OnNotifyErr(ctx, account, err)
			deps.EmitAudit(ctx, deps.Events.PasswordResetNotify, false, account.AccountID, account.UserID, err, nil)
		}
	}

	deps.MetricInc(deps.Metrics.PasswordResetRequest)
	deps.EmitAudit(ctx, deps.Events.PasswordResetRequest, true, account.AccountID, account.UserID, nil, func() map[string]string {
		return map[string]string{
			"credential_id": deps.CredentialID(issued.Credential),
		}
	})

	return issued, nil
}

// RunVerifyPasswordReset validates key without changing any state.
func RunVerifyPasswordReset[C any](ctx context.Context, key string, deps PasswordResetDeps[C]) (C, error) {
	normalizePasswordResetDeps(&deps)

	c, err := deps.lookupValid(ctx, key)
	deps.MetricInc(deps.Metrics.PasswordResetVerify)
	if err != nil {
		deps.EmitAudit(ctx, deps.Events.PasswordResetVerify, false, "", "", err, nil)
		return c, err
	}
	deps.EmitAudit(ctx, deps.Events.PasswordResetVerify, true, deps.AccountID(c), deps.UserID(c), nil, nil)
	return c, nil
}

// RunConfirmPasswordReset validates key and consumes it in one conditional
// write: the key and deadline are cleared and the credential is deactivated.
// A concurrent request that replaced the key makes the write lose, and the
// retry then no longer finds the superseded key.
func RunConfirmPasswordReset[C any](ctx context.Context, key string, deps PasswordResetDeps[C]) (C, error) {
	normalizePasswordResetDeps(&deps)
	var zero C

	if deps.StoreCredential == nil || deps.ConsumeKey == nil {
		return zero, deps.Errors.EngineNotReady
	}

	for attempt := 0; attempt < deps.MaxRetries; attempt++ {
		current, err := deps.lookupValid(ctx, key)
		if err != nil {
			deps.MetricInc(deps.Metrics.PasswordResetConfirmFailure)
			deps.EmitAudit(ctx, deps.Events.PasswordResetConfirm, false, "", "", err, nil)
			return zero, err
		}

		saved, err := deps.StoreCredential(ctx, deps.ConsumeKey(current), current)
		if err != nil {
			if deps.IsConflict(err) {
				continue
			}
			deps.MetricInc(deps.Metrics.PasswordResetConfirmFailure)
			deps.EmitAudit(ctx, deps.Events.PasswordResetConfirm, false, deps.AccountID(current), deps.UserID(current), err, nil)
			return zero, err
		}

		deps.MetricInc(deps.Metrics.PasswordResetConfirmSuccess)
		deps.EmitAudit(ctx, deps.Events.PasswordResetConfirm, true, deps.AccountID(saved), deps.UserID(saved), nil, func() map[string]string {
			return map[string]string{
				"credential_id": deps.CredentialID(saved),
			}
		})
		return saved, nil
	}

	deps.MetricInc(deps.Metrics.PasswordResetConfirmFailure)
	return zero, deps.Errors.Conflict
}

func (deps PasswordResetDeps[C]) activeCredential(ctx context.Context, account PasswordAccount) (C, error) {
	creds, err := deps.ListCredentials(ctx, account.AccountID)
	if err != nil {
		var zero C
		return zero, err
	}
	for _, c := range creds {
		if deps.IsActive(c) {
			return c, nil
		}
	}
	return deps.CreateCredential(ctx, account)
}

// lookupValid never tells the caller which check failed: an unknown key, an
// inactive credential, a mismatched or missing key and an elapsed deadline
// all surface as the same key error.
func (deps PasswordResetDeps[C]) lookupValid(ctx context.Context, key string) (C, error) {
	var zero C
	if deps.FindByKeyHash == nil || deps.HashKey == nil || deps.IsActive == nil || deps.KeyHash == nil ||
		deps.Deadline == nil || deps.CredentialID == nil || deps.AccountID == nil || deps.UserID == nil {
		return zero, deps.Errors.EngineNotReady
	}
	if key == "" {
		return zero, deps.Errors.InvalidKey
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	supplied := deps.HashKey(key)
	c, err := deps.FindByKeyHash(ctx, supplied)
	if err != nil {
		if deps.IsNotFound(err) {
			return zero, deps.Errors.UnknownKey
		}
		return zero, err
	}

	valid := deps.IsActive(c)
	if subtle.ConstantTimeCompare([]byte(deps.KeyHash(c)), []byte(supplied)) != 1 {
		valid = false
	}
	deadline := deps.Deadline(c)
	if deadline == nil || deps.Now().After(*deadline) {
		valid = false
	}
	if !valid {
		return zero, deps.Errors.InvalidKey
	}
	return c, nil
}

func normalizePasswordResetDeps[C any](deps *PasswordResetDeps[C]) {
	if deps.MaxRetries <= 0 {
		deps.MaxRetries = defaultMaxRetries
	}
	if deps.ClientIPFromContext == nil {
		deps.ClientIPFromContext = func(context.Context) string { return "" }
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.MapLimiterError == nil {
		deps.MapLimiterError = func(err error) error { return err }
	}
	if deps.IsNotFound == nil {
		deps.IsNotFound = func(error) bool { return false }
	}
	if deps.IsConflict == nil {
		deps.IsConflict = func(error) bool { return false }
	}
	if deps.OnNotifyErr == nil {
		deps.OnNotifyErr = func(context.Context, PasswordAccount, error) {}
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, bool, string, string, error, func() map[string]string) {}
	}
	if deps.EmitRateLimit == nil {
		deps.EmitRateLimit = func(context.Context, string, func() map[string]string) {}
	}
}

package flows

import (
	"context"
	"errors"
)

type PasswordAccount struct {
	AccountID string
	UserID    string
	Username  string
	Email     string
	Status    string
}

type PasswordCandidate struct {
	ID                  string
	Hash                string
	Active              bool
	Expired             bool
	ChangeOnFirstAccess bool
}

type PasswordVerifyResult struct {
	Account        PasswordAccount
	Valid          bool
	CredentialID   string
	Hash           string
	ChangeRequired bool
}

type PasswordVerifyMetrics struct {
	VerifySuccess int
	VerifyFailure int
	Expired       int
}

type PasswordVerifyEvents struct {
	Verify  string
	Expired string
}

type PasswordVerifyErrors struct {
	EngineNotReady error
	NoSuchUser     error
	System         error
}

type PasswordVerifyDeps struct {
	FindAccount     func(ctx context.Context, username string) (PasswordAccount, error)
	ListCandidates  func(ctx context.Context, accountID string) ([]PasswordCandidate, error)
	Compare         func(plaintext, hash string) (bool, error)
	DummyCompare    func(plaintext string)
	MarkExpired     func(ctx context.Context, credentialID string) error
	IsNotFound      func(error) bool
	OnBackgroundErr func(ctx context.Context, op string, err error)

	MetricInc func(int)
	EmitAudit func(context.Context, string, bool, string, string, error, func() map[string]string)

	Metrics PasswordVerifyMetrics
	Events  PasswordVerifyEvents
	Errors  PasswordVerifyErrors
}

// RunVerifyPassword checks plaintext against every ACTIVE, non-expired
// credential of the account. Every eligible hash is compared so the
// work done does not depend on which one matches. Expired ACTIVE rows are
// moved to EXPIRED on the way.
func RunVerifyPassword(ctx context.Context, username, plaintext string, deps PasswordVerifyDeps) (PasswordVerifyResult, error) {
	normalizePasswordVerifyDeps(&deps)

	if deps.FindAccount == nil || deps.ListCandidates == nil || deps.Compare == nil {
		return PasswordVerifyResult{}, deps.Errors.EngineNotReady
	}
	if username == "" {
		return PasswordVerifyResult{}, deps.Errors.NoSuchUser
	}

	account, err := deps.FindAccount(ctx, username)
	if err != nil {
		if deps.IsNotFound(err) {
			deps.EmitAudit(ctx, deps.Events.Verify, false, username, "", deps.Errors.NoSuchUser, nil)
			return PasswordVerifyResult{}, deps.Errors.NoSuchUser
		}
		return PasswordVerifyResult{}, err
	}

	result := PasswordVerifyResult{Account: account}

	candidates, err := deps.ListCandidates(ctx, account.AccountID)
	if err != nil {
		return PasswordVerifyResult{}, err
	}

	compared := 0
	for _, c := range candidates {
		if !c.Active {
			continue
		}
		if c.Expired {
			deps.MetricInc(deps.Metrics.Expired)
			if expErr := deps.MarkExpired(ctx, c.ID); expErr != nil {
				deps.OnBackgroundErr(ctx, "mark_expired", expErr)
			} else {
				deps.EmitAudit(ctx, deps.Events.Expired, true, account.AccountID, account.UserID, nil, func() map[string]string {
					return map[string]string{
						"credential_id": c.ID,
					}
				})
			}
			continue
		}

		compared++
		ok, cmpErr := deps.Compare(plaintext, c.Hash)
		if cmpErr != nil {
			return PasswordVerifyResult{}, errors.Join(deps.Errors.System, cmpErr)
		}
		if ok && !result.Valid {
			result.Valid = true
			result.CredentialID = c.ID
			result.Hash = c.Hash
			result.ChangeRequired = c.ChangeOnFirstAccess
		}
	}

	if compared == 0 {
		deps.DummyCompare(plaintext)
	}

	if result.Valid {
		deps.MetricInc(deps.Metrics.VerifySuccess)
	} else {
		deps.MetricInc(deps.Metrics.VerifyFailure)
	}
	deps.EmitAudit(ctx, deps.Events.Verify, result.Valid, account.AccountID, account.UserID, nil, func() map[string]string {
		if !result.Valid {
			return nil
		}
		return map[string]string{
			"credential_id": result.CredentialID,
		}
	})

	return result, nil
}

func normalizePasswordVerifyDeps(deps *PasswordVerifyDeps) {
	if deps.IsNotFound == nil {
		deps.IsNotFound = func(error) bool { return false }
	}
	if deps.DummyCompare == nil {
		deps.DummyCompare = func(string) {}
	}
	if deps.MarkExpired == nil {
		deps.MarkExpired = func(context.Context, string) error { return nil }
	}
	if deps.OnBackgroundErr == nil {
		deps.OnBackgroundErr = func(context.Context, string, error) {}
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, bool, string, string, error, func() map[string]string) {}
	}
}

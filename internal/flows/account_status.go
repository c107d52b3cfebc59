package flows

import (
	"context"
)

const (
	StatusActive   = "ACTIVE"
	StatusInactive = "INACTIVE"
	StatusLocked   = "LOCKED"

	defaultMaxRetries = 4
)

type AccountErrors struct {
	EngineNotReady error
	NotFound       error
	IllegalState   error
	MissingUserID  error
	Conflict       error
}

// AccountTxDeps describes one account row for an optimistic read-modify-write.
// Store receives the mutated value and the value it was derived from, and must
// fail with an error for which IsConflict is true when the row changed.
type AccountTxDeps[A any] struct {
	MaxRetries int

	Load       func(ctx context.Context) (A, error)
	Store      func(ctx context.Context, next, current A) (A, error)
	IsNotFound func(error) bool
	IsConflict func(error) bool

	Errors AccountErrors
}

type AccountStatusDeps[A any] struct {
	Tx        AccountTxDeps[A]
	Status    func(A) string
	SetStatus func(A, string) A
}

type AccountLinkDeps[A any] struct {
	Tx        AccountTxDeps[A]
	Status    func(A) string
	UserID    func(A) string
	SetUserID func(A, string) A
}

// RunAccountTx re-reads the account, applies mutate and stores the result,
// retrying on version conflicts. A mutate that reports no change returns the
// current value without writing.
func RunAccountTx[A any](
	ctx context.Context,
	deps AccountTxDeps[A],
	mutate func(current A) (next A, changed bool, err error),
) (A, error) {
	var zero A
	if deps.Load == nil || deps.Store == nil || mutate == nil {
		return zero, deps.Errors.EngineNotReady
	}
	normalizeAccountTxDeps(&deps)

	for attempt := 0; attempt < deps.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		current, err := deps.Load(ctx)
		if err != nil {
			if deps.IsNotFound(err) {
				return zero, deps.Errors.NotFound
			}
			return zero, err
		}

		next, changed, err := mutate(current)
		if err != nil {
			return zero, err
		}
		if !changed {
			return current, nil
		}

		stored, err := deps.Store(ctx, next, current)
		if err == nil {
			return stored, nil
		}
		if deps.IsConflict(err) {
			continue
		}
		if deps.IsNotFound(err) {
			return zero, deps.Errors.NotFound
		}
		return zero, err
	}

	return zero, deps.Errors.Conflict
}

// RunUpdateAccountStatus moves an account to target. An INACTIVE account may
// only move to ACTIVE, and only when reactivate is set; lock and unlock pass
// false so they never touch an INACTIVE account.
func RunUpdateAccountStatus[A any](ctx context.Context, target string, reactivate bool, deps AccountStatusDeps[A]) (A, error) {
	if deps.Status == nil || deps.SetStatus == nil {
		var zero A
		return zero, deps.Tx.Errors.EngineNotReady
	}

	return RunAccountTx(ctx, deps.Tx, func(current A) (A, bool, error) {
		status := deps.Status(current)
		if status == StatusInactive && (!reactivate || target != StatusActive) {
			return current, false, deps.Tx.Errors.IllegalState
		}
		if status == target {
			return current, false, nil
		}
		return deps.SetStatus(current, target), true, nil
	})
}

// RunLinkAccount rebinds an account to userID.
func RunLinkAccount[A any](ctx context.Context, userID string, deps AccountLinkDeps[A]) (A, error) {
	var zero A
	if deps.Status == nil || deps.UserID == nil || deps.SetUserID == nil {
		return zero, deps.Tx.Errors.EngineNotReady
	}
	if userID == "" {
		return zero, deps.Tx.Errors.MissingUserID
	}

	return RunAccountTx(ctx, deps.Tx, func(current A) (A, bool, error) {
		if deps.Status(current) == StatusInactive {
			return current, false, deps.Tx.Errors.IllegalState
		}
		if deps.UserID(current) == userID {
			return current, false, nil
		}
		return deps.SetUserID(current, userID), true, nil
	})
}

func normalizeAccountTxDeps[A any](deps *AccountTxDeps[A]) {
	if deps.MaxRetries <= 0 {
		deps.MaxRetries = defaultMaxRetries
	}
	if deps.IsNotFound == nil {
		deps.IsNotFound = func(error) bool { return false }
	}
	if deps.IsConflict == nil {
		deps.IsConflict = func(error) bool { return false }
	}
}

package flows

import (
	"context"
	"time"
)

// SignatureCounterAdvances reports whether an authenticator presenting
// presented may follow a stored count of stored. Authenticators that never
// count report 0 forever and are accepted only while the stored count is 0
// as well.
func SignatureCounterAdvances(stored, presented int64) bool {
	if stored == 0 && presented == 0 {
		return true
	}
	return presented > stored
}

type AssertionErrors struct {
	EngineNotReady   error
	NoSuchCredential error
	CounterReplay    error
	InvalidCount     error
	Conflict         error
}

// AssertionDeps records a verified assertion against one stored credential.
// UpdateCount must be a conditional write that fails with an error for which
// IsConflict is true when the stored count is no longer expected.
type AssertionDeps struct {
	MaxRetries int
	Now        func() time.Time

	LoadCount   func(ctx context.Context) (int64, error)
	UpdateCount func(ctx context.Context, expected, next int64, usedAt time.Time) error
	IsNotFound  func(error) bool
	IsConflict  func(error) bool

	Errors AssertionErrors
}

// RunRecordAssertion moves the stored signature count to presented. A
// concurrent assertion that advanced the count first makes the write lose;
// the retry re-reads the count and rejects presented if it no longer
// advances it, so the same counter value is never accepted twice.
func RunRecordAssertion(ctx context.Context, presented int64, deps AssertionDeps) (int64, error) {
	if deps.LoadCount == nil || deps.UpdateCount == nil {
		return 0, deps.Errors.EngineNotReady
	}
	if presented < 0 {
		return 0, deps.Errors.InvalidCount
	}
	normalizeAssertionDeps(&deps)

	for attempt := 0; attempt < deps.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		stored, err := deps.LoadCount(ctx)
		if err != nil {
			if deps.IsNotFound(err) {
				return 0, deps.Errors.NoSuchCredential
			}
			return 0, err
		}
		if !SignatureCounterAdvances(stored, presented) {
			return stored, deps.Errors.CounterReplay
		}

		err = deps.UpdateCount(ctx, stored, presented, deps.Now())
		if err == nil {
			return presented, nil
		}
		if deps.IsConflict(err) {
			continue
		}
		if deps.IsNotFound(err) {
			return 0, deps.Errors.NoSuchCredential
		}
		return 0, err
	}

	return 0, deps.Errors.Conflict
}

func normalizeAssertionDeps(deps *AssertionDeps) {
	if deps.MaxRetries <= 0 {
		deps.MaxRetries = defaultMaxRetries
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.IsNotFound == nil {
		deps.IsNotFound = func(error) bool { return false }
	}
	if deps.IsConflict == nil {
		deps.IsConflict = func(error) bool { return false }
	}
}

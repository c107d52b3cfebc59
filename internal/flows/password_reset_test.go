package flows

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"
)

var (
	errDisabled    = errors.New("disabled")
	errRateLimited = errors.New("rate limited")
	errUnknownKey  = errors.New("unknown key")
	errInvalidKey  = errors.New("invalid key")
)

type testCred struct {
	ID        string
	AccountID string
	UserID    string
	Active    bool
	KeyHash   string
	Deadline  *time.Time
	Version   int
}

type resetHarness struct {
	mu       sync.Mutex
	now      time.Time
	account  PasswordAccount
	creds    map[string]testCred
	keys     int
	notified []string
	limited  bool
	notifyFn func() error
}

func newResetHarness() *resetHarness {
	return &resetHarness{
		now:     time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
		account: PasswordAccount{AccountID: "a1", UserID: "u1", Username: "alice", Email: "alice@example.com"},
		creds:   map[string]testCred{},
	}
}

func (h *resetHarness) deps() PasswordResetDeps[testCred] {
	return PasswordResetDeps[testCred]{
		Enabled:  true,
		ResetTTL: 15 * time.Minute,
		Now: func() time.Time {
			h.mu.Lock()
			defer h.mu.Unlock()
			return h.now
		},
		CheckRequestLimiter: func(context.Context, string, string) error {
			if h.limited {
				return errRateLimited
			}
			return nil
		},
		IsNotFound: func(err error) bool { return errors.Is(err, errNotFound) },
		IsConflict: func(err error) bool { return errors.Is(err, errConflict) },
		FindAccount: func(_ context.Context, username string) (PasswordAccount, error) {
			if username != h.account.Username {
				return PasswordAccount{}, errNotFound
			}
			return h.account, nil
		},
		ListCredentials: func(_ context.Context, accountID string) ([]testCred, error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			var out []testCred
			for _, c := range h.creds {
				if c.AccountID == accountID {
					out = append(out, c)
				}
			}
			return out, nil
		},
		CreateCredential: func(_ context.Context, account PasswordAccount) (testCred, error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			c := testCred{ID: "lazy-" + strconv.Itoa(len(h.creds)), AccountID: account.AccountID, UserID: account.UserID, Active: true}
			h.creds[c.ID] = c
			return c, nil
		},
		FindByKeyHash: func(_ context.Context, keyHash string) (testCred, error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			for _, c := range h.creds {
				if c.KeyHash != "" && c.KeyHash == keyHash {
					return c, nil
				}
			}
			return testCred{}, errNotFound
		},
		StoreCredential: func(_ context.Context, next, current testCred) (testCred, error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			stored, ok := h.creds[current.ID]
			if !ok {
				return testCred{}, errNotFound
			}
			if stored.Version != current.Version {
				return testCred{}, errConflict
			}
			next.Version = current.Version + 1
			h.creds[next.ID] = next
			return next, nil
		},
		CredentialID: func(c testCred) string { return c.ID },
		AccountID:    func(c testCred) string { return c.AccountID },
		UserID:       func(c testCred) string { return c.UserID },
		IsActive:     func(c testCred) bool { return c.Active },
		KeyHash:      func(c testCred) string { return c.KeyHash },
		Deadline:     func(c testCred) *time.Time { return c.Deadline },
		ApplyResetKey: func(c testCred, keyHash string, deadline time.Time) testCred {
			c.KeyHash = keyHash
			c.Deadline = &deadline
			return c
		},
		ConsumeKey: func(c testCred) testCred {
			c.KeyHash = ""
			c.Deadline = nil
			c.Active = false
			return c
		},
		GenerateKey: func() (string, error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.keys++
			return "key-" + strconv.Itoa(h.keys), nil
		},
		HashKey: func(k string) string { return "h(" + k + ")" },
		Notify: func(_ context.Context, account PasswordAccount, key string, _ time.Time) error {
			h.notified = append(h.notified, key)
			if h.notifyFn != nil {
				return h.notifyFn()
			}
			return nil
		},
		Errors: PasswordResetErrors{
			EngineNotReady:           errNotReady,
			PasswordResetDisabled:    errDisabled,
			PasswordResetRateLimited: errRateLimited,
			NoSuchUser:               errNotFound,
			UnknownKey:               errUnknownKey,
			InvalidKey:               errInvalidKey,
			Conflict:                 errTooBusy,
		},
	}
}

func (h *resetHarness) advance(d time.Duration) {
	h.mu.Lock()
	h.now = h.now.Add(d)
	h.mu.Unlock()
}

func TestRequestPasswordResetCreatesCredentialLazily(t *testing.T) {
	h := newResetHarness()
	issued, err := RunRequestPasswordReset(context.Background(), "alice", h.deps())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if issued.Key != "key-1" || issued.Credential.KeyHash != "h(key-1)" {
		t.Fatalf("unexpected issue %+v", issued)
	}
	if !issued.Deadline.Equal(h.now.Add(15 * time.Minute)) {
		t.Fatalf("unexpected deadline %v", issued.Deadline)
	}
	if len(h.creds) != 1 {
		t.Fatalf("expected one lazily created credential, got %d", len(h.creds))
	}
	if len(h.notified) != 1 || h.notified[0] != "key-1" {
		t.Fatalf("expected notification with key, got %v", h.notified)
	}
}

func TestRequestPasswordResetSupersedesOldKey(t *testing.T) {
	h := newResetHarness()
	h.creds["c1"] = testCred{ID: "c1", AccountID: "a1", UserID: "u1", Active: true}

	if _, err := RunRequestPasswordReset(context.Background(), "alice", h.deps()); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if _, err := RunRequestPasswordReset(context.Background(), "alice", h.deps()); err != nil {
		t.Fatalf("second request: %v", err)
	}
	if len(h.creds) != 1 {
		t.Fatalf("expected existing credential reused, got %d", len(h.creds))
	}

	if _, err := RunVerifyPasswordReset(context.Background(), "key-1", h.deps()); !errors.Is(err, errUnknownKey) {
		t.Fatalf("expected superseded key to be unknown, got %v", err)
	}
	if _, err := RunVerifyPasswordReset(context.Background(), "key-2", h.deps()); err != nil {
		t.Fatalf("expected latest key valid, got %v", err)
	}
}

func TestRequestPasswordResetErrors(t *testing.T) {
	h := newResetHarness()
	deps := h.deps()
	deps.Enabled = false
	if _, err := RunRequestPasswordReset(context.Background(), "alice", deps); !errors.Is(err, errDisabled) {
		t.Fatalf("expected disabled, got %v", err)
	}

	h.limited = true
	if _, err := RunRequestPasswordReset(context.Background(), "alice", h.deps()); !errors.Is(err, errRateLimited) {
		t.Fatalf("expected rate limited, got %v", err)
	}

	h.limited = false
	if _, err := RunRequestPasswordReset(context.Background(), "mallory", h.deps()); !errors.Is(err, errNotFound) {
		t.Fatalf("expected no such user, got %v", err)
	}
}

func TestRequestPasswordResetNotifyFailureIsNotFatal(t *testing.T) {
	h := newResetHarness()
	h.notifyFn = func() error { return errors.New("smtp down") }
	var notifyErr error
	deps := h.deps()
	deps.OnNotifyErr = func(_ context.Context, _ PasswordAccount, err error) { notifyErr = err }

	if _, err := RunRequestPasswordReset(context.Background(), "alice", deps); err != nil {
		t.Fatalf("expected success despite notify failure, got %v", err)
	}
	if notifyErr == nil {
		t.Fatal("expected notify error to be reported")
	}
}

func TestConfirmPasswordResetIsSingleUse(t *testing.T) {
	h := newResetHarness()
	issued, err := RunRequestPasswordReset(context.Background(), "alice", h.deps())
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	got, err := RunConfirmPasswordReset(context.Background(), issued.Key, h.deps())
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if got.Active || got.KeyHash != "" || got.Deadline != nil {
		t.Fatalf("expected consumed inactive credential, got %+v", got)
	}

	if _, err := RunConfirmPasswordReset(context.Background(), issued.Key, h.deps()); !errors.Is(err, errUnknownKey) {
		t.Fatalf("expected second confirm to fail, got %v", err)
	}
}

func TestConfirmPasswordResetDeadline(t *testing.T) {
	h := newResetHarness()
	issued, err := RunRequestPasswordReset(context.Background(), "alice", h.deps())
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	h.advance(15*time.Minute - time.Second)
	if _, err := RunVerifyPasswordReset(context.Background(), issued.Key, h.deps()); err != nil {
		t.Fatalf("expected key valid one second before deadline, got %v", err)
	}

	h.advance(time.Second)
	if _, err := RunVerifyPasswordReset(context.Background(), issued.Key, h.deps()); err != nil {
		t.Fatalf("expected key valid at deadline, got %v", err)
	}

	h.advance(time.Second)
	if _, err := RunConfirmPasswordReset(context.Background(), issued.Key, h.deps()); !errors.Is(err, errInvalidKey) {
		t.Fatalf("expected expired key to be invalid, got %v", err)
	}
}

func TestConfirmPasswordResetInactiveCredential(t *testing.T) {
	h := newResetHarness()
	deadline := h.now.Add(time.Minute)
	h.creds["c1"] = testCred{ID: "c1", UserID: "u1", Active: false, KeyHash: "h(k)", Deadline: &deadline}

	if _, err := RunConfirmPasswordReset(context.Background(), "k", h.deps()); !errors.Is(err, errInvalidKey) {
		t.Fatalf("expected invalid key for inactive credential, got %v", err)
	}
	if _, err := RunConfirmPasswordReset(context.Background(), "", h.deps()); !errors.Is(err, errInvalidKey) {
		t.Fatalf("expected invalid key for empty key, got %v", err)
	}
}

func TestConfirmPasswordResetConcurrentSingleWinner(t *testing.T) {
	h := newResetHarness()
	issued, err := RunRequestPasswordReset(context.Background(), "alice", h.deps())
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := RunConfirmPasswordReset(context.Background(), issued.Key, h.deps()); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("expected one successful confirm, got %d", winners)
	}
}

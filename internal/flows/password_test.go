package flows

import (
	"context"
	"errors"
	"testing"
)

var errSystem = errors.New("system")

type verifyHarness struct {
	account    PasswordAccount
	candidates []PasswordCandidate
	compared   []string
	dummy      int
	expired    []string
	metrics    map[int]int
	events     []string
}

func (h *verifyHarness) deps() PasswordVerifyDeps {
	h.metrics = map[int]int{}
	return PasswordVerifyDeps{
		FindAccount: func(_ context.Context, username string) (PasswordAccount, error) {
			if username != h.account.Username {
				return PasswordAccount{}, errNotFound
			}
			return h.account, nil
		},
		ListCandidates: func(context.Context, string) ([]PasswordCandidate, error) {
			return h.candidates, nil
		},
		Compare: func(plaintext, hash string) (bool, error) {
			h.compared = append(h.compared, hash)
			if hash == "broken" {
				return false, errors.New("bad hash")
			}
			return plaintext == hash, nil
		},
		DummyCompare: func(string) { h.dummy++ },
		MarkExpired: func(_ context.Context, id string) error {
			h.expired = append(h.expired, id)
			return nil
		},
		IsNotFound: func(err error) bool { return errors.Is(err, errNotFound) },
		MetricInc:  func(id int) { h.metrics[id]++ },
		EmitAudit: func(_ context.Context, event string, _ bool, _, _ string, _ error, _ func() map[string]string) {
			h.events = append(h.events, event)
		},
		Metrics: PasswordVerifyMetrics{VerifySuccess: 1, VerifyFailure: 2, Expired: 3},
		Events:  PasswordVerifyEvents{Verify: "verify", Expired: "expired"},
		Errors:  PasswordVerifyErrors{EngineNotReady: errNotReady, NoSuchUser: errNotFound, System: errSystem},
	}
}

func TestVerifyPasswordComparesEveryActiveCandidate(t *testing.T) {
	h := &verifyHarness{
		account: PasswordAccount{AccountID: "a1", UserID: "u1", Username: "alice"},
		candidates: []PasswordCandidate{
			{ID: "c1", Hash: "secret", Active: true},
			{ID: "c2", Hash: "other", Active: true, ChangeOnFirstAccess: true},
			{ID: "c3", Hash: "secret", Active: false},
		},
	}

	res, err := RunVerifyPassword(context.Background(), "alice", "secret", h.deps())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Valid || res.CredentialID != "c1" || res.ChangeRequired {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(h.compared) != 2 {
		t.Fatalf("expected both active hashes compared, got %v", h.compared)
	}
	if h.metrics[1] != 1 {
		t.Fatalf("expected success metric, got %v", h.metrics)
	}
}

func TestVerifyPasswordChangeRequired(t *testing.T) {
	h := &verifyHarness{
		account:    PasswordAccount{AccountID: "a1", UserID: "u1", Username: "alice"},
		candidates: []PasswordCandidate{{ID: "t1", Hash: "temp", Active: true, ChangeOnFirstAccess: true}},
	}
	res, err := RunVerifyPassword(context.Background(), "alice", "temp", h.deps())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Valid || !res.ChangeRequired {
		t.Fatalf("expected valid with change required, got %+v", res)
	}
}

func TestVerifyPasswordExpiredCandidate(t *testing.T) {
	h := &verifyHarness{
		account:    PasswordAccount{AccountID: "a1", UserID: "u1", Username: "alice"},
		candidates: []PasswordCandidate{{ID: "old", Hash: "secret", Active: true, Expired: true}},
	}
	res, err := RunVerifyPassword(context.Background(), "alice", "secret", h.deps())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Valid {
		t.Fatal("expired credential must not verify")
	}
	if len(h.expired) != 1 || h.expired[0] != "old" {
		t.Fatalf("expected credential marked expired, got %v", h.expired)
	}
	if h.dummy != 1 {
		t.Fatalf("expected dummy compare when nothing eligible, got %d", h.dummy)
	}
}

func TestVerifyPasswordNoCredentials(t *testing.T) {
	h := &verifyHarness{account: PasswordAccount{AccountID: "a1", UserID: "u1", Username: "alice"}}
	res, err := RunVerifyPassword(context.Background(), "alice", "anything", h.deps())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Valid {
		t.Fatal("expected invalid")
	}
	if h.dummy != 1 {
		t.Fatalf("expected dummy compare, got %d", h.dummy)
	}
	if h.metrics[2] != 1 {
		t.Fatalf("expected failure metric, got %v", h.metrics)
	}
}

func TestVerifyPasswordUnknownUser(t *testing.T) {
	h := &verifyHarness{account: PasswordAccount{Username: "alice"}}
	if _, err := RunVerifyPassword(context.Background(), "bob", "x", h.deps()); !errors.Is(err, errNotFound) {
		t.Fatalf("expected no such user, got %v", err)
	}
	if len(h.events) != 1 || h.events[0] != "verify" {
		t.Fatalf("expected a failed verify event, got %v", h.events)
	}
	if _, err := RunVerifyPassword(context.Background(), "", "x", h.deps()); !errors.Is(err, errNotFound) {
		t.Fatalf("expected no such user for empty username, got %v", err)
	}
}

func TestVerifyPasswordCompareError(t *testing.T) {
	h := &verifyHarness{
		account:    PasswordAccount{AccountID: "a1", UserID: "u1", Username: "alice"},
		candidates: []PasswordCandidate{{ID: "c1", Hash: "broken", Active: true}},
	}
	if _, err := RunVerifyPassword(context.Background(), "alice", "x", h.deps()); !errors.Is(err, errSystem) {
		t.Fatalf("expected system error, got %v", err)
	}
}

package goIdP

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestVerifyPassword(t *testing.T) {
	f := newPasswordFixture(t, nil)
	ctx := context.Background()
	f.createUser(t, "u1", "alice", "correct horse")

	ok, err := f.provider.VerifyPassword(ctx, "alice", "correct horse")
	if err != nil || !ok {
		t.Fatalf("expected valid password, got ok=%v err=%v", ok, err)
	}

	ok, err = f.provider.VerifyPassword(ctx, "alice", "wrong horse")
	if err != nil {
		t.Fatalf("a wrong password must not be an error, got %v", err)
	}
	if ok {
		t.Fatalf("expected wrong password to fail")
	}

	if _, err := f.provider.VerifyPassword(ctx, "mallory", "correct horse"); !errors.Is(err, ErrNoSuchUser) {
		t.Fatalf("expected ErrNoSuchUser, got %v", err)
	}

	snap := f.provider.MetricsSnapshot()
	if snap.Counters[MetricPasswordVerifySuccess] != 1 || snap.Counters[MetricPasswordVerifyFailure] != 1 {
		t.Fatalf("unexpected verify counters %+v", snap.Counters)
	}
}

func TestVerifyPasswordIgnoresInactiveCredentials(t *testing.T) {
	f := newPasswordFixture(t, nil)
	ctx := context.Background()
	f.createUser(t, "u1", "alice", "correct horse")

	creds := f.activeCredentials(t, "u1")
	if _, err := f.provider.RevokePassword(ctx, creds[0].ID); err != nil {
		t.Fatalf("RevokePassword failed: %v", err)
	}

	ok, err := f.provider.VerifyPassword(ctx, "alice", "correct horse")
	if err != nil {
		t.Fatalf("VerifyPassword failed: %v", err)
	}
	if ok {
		t.Fatalf("a revoked credential must never verify")
	}

	if _, err := f.provider.RevokePassword(ctx, creds[0].ID); !errors.Is(err, ErrIllegalState) {
		t.Fatalf("expected ErrIllegalState revoking twice, got %v", err)
	}
	if _, err := f.provider.RevokePassword(ctx, "missing"); !errors.Is(err, ErrNoSuchCredential) {
		t.Fatalf("expected ErrNoSuchCredential, got %v", err)
	}
}

func TestVerifyPasswordMarksExpiredCredentials(t *testing.T) {
	f := newPasswordFixture(t, func(cfg *Config, _ *Builder) {
		cfg.Password.MaxAge = time.Hour
	})
	ctx := context.Background()
	f.createUser(t, "u1", "alice", "correct horse")
	id := f.activeCredentials(t, "u1")[0].ID

	f.clock.Advance(2 * time.Hour)

	ok, err := f.provider.VerifyPassword(ctx, "alice", "correct horse")
	if err != nil {
		t.Fatalf("VerifyPassword failed: %v", err)
	}
	if ok {
		t.Fatalf("an expired credential must not verify")
	}
	if got := f.passwords.get(id).Status; got != CredentialExpired {
		t.Fatalf("expected EXPIRED, got %s", got)
	}
	if f.provider.MetricsSnapshot().Counters[MetricPasswordExpired] != 1 {
		t.Fatalf("expected expired counter 1")
	}
}

func TestSetPasswordLeavesSingleActiveCredential(t *testing.T) {
	f := newPasswordFixture(t, nil)
	ctx := context.Background()
	f.createUser(t, "u1", "alice", "correct horse")
	old := f.activeCredentials(t, "u1")[0]

	view, err := f.provider.SetPassword(ctx, "alice", "battery staple")
	if err != nil {
		t.Fatalf("SetPassword failed: %v", err)
	}
	if view.Status != CredentialActive || view.ChangeOnFirstAccess {
		t.Fatalf("unexpected view %+v", view)
	}

	active := f.activeCredentials(t, "u1")
	if len(active) != 1 || active[0].ID != view.ID {
		t.Fatalf("expected only the new credential active, got %+v", active)
	}
	if got := f.passwords.get(old.ID).Status; got != CredentialInactive {
		t.Fatalf("expected previous credential INACTIVE, got %s", got)
	}

	if ok, _ := f.provider.VerifyPassword(ctx, "alice", "correct horse"); ok {
		t.Fatalf("old password must no longer verify")
	}
	if ok, _ := f.provider.VerifyPassword(ctx, "alice", "battery staple"); !ok {
		t.Fatalf("new password must verify")
	}
}

func TestSetPasswordEnforcesPolicy(t *testing.T) {
	f := newPasswordFixture(t, nil)
	f.createUser(t, "u1", "alice", "correct horse")

	_, err := f.provider.SetPassword(context.Background(), "alice", "short")
	if !errors.Is(err, ErrPasswordPolicy) || !errors.Is(err, ErrInvalidData) {
		t.Fatalf("expected policy violation, got %v", err)
	}
	if _, err := f.provider.SetPassword(context.Background(), "ghost", "long enough"); !errors.Is(err, ErrNoSuchUser) {
		t.Fatalf("expected ErrNoSuchUser, got %v", err)
	}
}

func TestCreateAccountRejectsDuplicateUsername(t *testing.T) {
	f := newPasswordFixture(t, nil)
	ctx := context.Background()
	f.createUser(t, "u1", "alice", "correct horse")

	if _, err := f.provider.CreateAccount(ctx, "u2", "alice", "", "correct horse"); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
	if _, err := f.provider.CreateAccount(ctx, "", "bob", "", "correct horse"); !errors.Is(err, ErrMissingData) {
		t.Fatalf("expected ErrMissingData, got %v", err)
	}
}

func TestStoredHashIsNeverPlaintext(t *testing.T) {
	f := newPasswordFixture(t, nil)
	f.createUser(t, "u1", "alice", "correct horse")

	c := f.activeCredentials(t, "u1")[0]
	if strings.Contains(c.PasswordHash, "correct horse") || !strings.HasPrefix(c.PasswordHash, "$pbkdf2") {
		t.Fatalf("unexpected stored hash %q", c.PasswordHash)
	}

	views, err := f.provider.ListPasswordCredentials(context.Background(), "u1")
	if err != nil || len(views) != 1 {
		t.Fatalf("ListPasswordCredentials returned %d (%v)", len(views), err)
	}
}

func TestVerifyUpgradesWeakHash(t *testing.T) {
	f := newPasswordFixture(t, nil)
	ctx := context.Background()
	f.createUser(t, "u1", "alice", "correct horse")
	before := f.activeCredentials(t, "u1")[0]

	cfg := testConfig()
	cfg.Password.Algorithm = PasswordArgon2
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	upgraded, err := New().
		WithConfig(cfg).
		WithAccountStore(f.accounts).
		WithPasswordStore(f.passwords).
		WithLogger(testLogger()).
		BuildPassword()
	if err != nil {
		t.Fatalf("BuildPassword failed: %v", err)
	}
	defer upgraded.Close()

	res, err := upgraded.VerifyPasswordDetailed(ctx, "alice", "correct horse")
	if err != nil || !res.Valid || res.CredentialID != before.ID {
		t.Fatalf("unexpected verification %+v (%v)", res, err)
	}

	after := f.passwords.get(before.ID)
	if !strings.HasPrefix(after.PasswordHash, "$argon2id$") {
		t.Fatalf("expected argon2id rehash, got %q", after.PasswordHash)
	}
	if ok, _ := upgraded.VerifyPassword(ctx, "alice", "correct horse"); !ok {
		t.Fatalf("rehashed credential must still verify")
	}
}

func TestChangeOnFirstAccessIsReported(t *testing.T) {
	f := newPasswordFixture(t, nil)
	ctx := context.Background()
	f.createUser(t, "u1", "alice", "correct horse")
	c := f.activeCredentials(t, "u1")[0]
	c.ChangeOnFirstAccess = true
	if _, err := f.passwords.Update(ctx, c, c.Version); err != nil {
		t.Fatalf("seed update failed: %v", err)
	}

	res, err := f.provider.VerifyPasswordDetailed(ctx, "alice", "correct horse")
	if err != nil {
		t.Fatalf("VerifyPasswordDetailed failed: %v", err)
	}
	if !res.Valid || !res.ChangeRequired {
		t.Fatalf("expected valid result requiring change, got %+v", res)
	}
}

func TestVerifyPasswordReportsAccountStatus(t *testing.T) {
	f := newPasswordFixture(t, nil)
	ctx := context.Background()
	f.createUser(t, "u1", "alice", "correct horse")

	res, err := f.provider.VerifyPasswordDetailed(ctx, "alice", "correct horse")
	if err != nil || !res.Valid || res.AccountStatus != AccountActive {
		t.Fatalf("expected valid result on active account, got %+v err=%v", res, err)
	}

	if _, err := f.provider.LockAccount(ctx, "alice"); err != nil {
		t.Fatalf("LockAccount failed: %v", err)
	}
	res, err = f.provider.VerifyPasswordDetailed(ctx, "alice", "correct horse")
	if err != nil || !res.Valid || res.AccountStatus != AccountLocked {
		t.Fatalf("expected password match reported with LOCKED status, got %+v err=%v", res, err)
	}
	if ok, err := f.provider.VerifyPassword(ctx, "alice", "correct horse"); err != nil || !ok {
		t.Fatalf("VerifyPassword does not gate on account status, got ok=%v err=%v", ok, err)
	}

	if _, err := f.provider.UpdateAccountStatus(ctx, "alice", AccountInactive); err != nil {
		t.Fatalf("UpdateAccountStatus failed: %v", err)
	}
	res, err = f.provider.VerifyPasswordDetailed(ctx, "alice", "wrong horse")
	if err != nil || res.Valid || res.AccountStatus != AccountInactive {
		t.Fatalf("expected mismatch reported with INACTIVE status, got %+v err=%v", res, err)
	}
}

func TestVerifyPasswordAudit(t *testing.T) {
	f := newPasswordFixture(t, nil)
	f.createUser(t, "u1", "alice", "correct horse")

	_, _ = f.provider.VerifyPassword(context.Background(), "alice", "wrong horse")
	f.provider.Close()

	events := f.sink.ofType(auditEventPasswordVerify)
	if len(events) != 1 || events[0].Succeeded() || events[0].AccountID != "alice" {
		t.Fatalf("unexpected verify events %+v", events)
	}
}

func TestSetPasswordAuditCarriesCredentialID(t *testing.T) {
	f := newPasswordFixture(t, nil)
	f.createUser(t, "u1", "alice", "correct horse")

	created, err := f.provider.SetPassword(context.Background(), "alice", "battery staple")
	if err != nil {
		t.Fatalf("SetPassword failed: %v", err)
	}
	f.provider.Close()

	events := f.sink.ofType(auditEventPasswordSet)
	if len(events) == 0 {
		t.Fatalf("expected a password_set event")
	}
	e := events[len(events)-1]
	if !e.Succeeded() || e.CredentialID != created.ID || e.Authority != AuthorityPassword {
		t.Fatalf("unexpected event %+v", e)
	}
	if _, ok := e.Details["credential_id"]; ok {
		t.Fatalf("credential id must not be repeated in details")
	}
}

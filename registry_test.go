package goIdP

import (
	"context"
	"errors"
	"testing"
)

func newTestRegistry(t *testing.T) (*Registry, *passwordFixture, *webAuthnFixture) {
	t.Helper()

	pw := newPasswordFixture(t, nil)
	wa := newWebAuthnFixture(t, nil)
	r, err := NewRegistry(pw.provider, wa.provider)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	return r, pw, wa
}

func TestRegistryResolve(t *testing.T) {
	r, pw, wa := newTestRegistry(t)

	m, err := r.Resolve("acme", "pw")
	if err != nil || m != CredentialManager(pw.provider) {
		t.Fatalf("expected password provider, got %v (%v)", m, err)
	}
	m, err = r.Resolve("acme", "passkeys")
	if err != nil || m != CredentialManager(wa.provider) {
		t.Fatalf("expected webauthn provider, got %v (%v)", m, err)
	}

	if _, err := r.Resolve("acme", "sms"); !errors.Is(err, ErrNoSuchProvider) {
		t.Fatalf("expected ErrNoSuchProvider, got %v", err)
	}

	_, err = r.Resolve("globex", "pw")
	var fe *FieldError
	if !errors.As(err, &fe) || fe.Kind != ErrIllegalArgument || fe.Field != FieldRealmMismatch {
		t.Fatalf("expected IllegalArgument(realm-mismatch), got %v", err)
	}
}

func TestRegistryRejectsDuplicateProvider(t *testing.T) {
	r, pw, _ := newTestRegistry(t)

	if err := r.Register(pw.provider); !errors.Is(err, ErrIllegalState) {
		t.Fatalf("expected ErrIllegalState, got %v", err)
	}
	if err := r.Register(nil); !errors.Is(err, ErrMissingData) {
		t.Fatalf("expected ErrMissingData, got %v", err)
	}
}

func TestRegistrySameProviderIDAcrossRealms(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	other := newPasswordFixture(t, func(cfg *Config, _ *Builder) {
		cfg.Realm = "globex"
	})
	if err := r.Register(other.provider); err != nil {
		t.Fatalf("a provider id may repeat across realms: %v", err)
	}
	m, err := r.Resolve("globex", "pw")
	if err != nil || m.Realm() != "globex" {
		t.Fatalf("expected globex provider, got %v (%v)", m, err)
	}

	removed, ok := r.Unregister("globex", "pw")
	if !ok || removed != CredentialManager(other.provider) {
		t.Fatalf("Unregister returned %v, %v", removed, ok)
	}
	if _, err := r.Resolve("globex", "pw"); !errors.Is(err, ErrIllegalArgument) {
		t.Fatalf("expected realm mismatch after unregister, got %v", err)
	}
	if _, ok := r.Unregister("globex", "pw"); ok {
		t.Fatalf("second Unregister must report false")
	}
}

func TestRegistryAuthorityMismatch(t *testing.T) {
	r, pw, _ := newTestRegistry(t)
	ctx := context.Background()
	pw.createUser(t, "u1", "alice", "correct horse")

	if _, err := r.VerifyPassword(ctx, "acme", "passkeys", "alice", "correct horse"); !errors.Is(err, ErrNoSuchAuthority) {
		t.Fatalf("expected ErrNoSuchAuthority for password on webauthn provider, got %v", err)
	}
	if _, err := r.RequestPasswordReset(ctx, "acme", "passkeys", "alice"); !errors.Is(err, ErrNoSuchAuthority) {
		t.Fatalf("expected ErrNoSuchAuthority for reset on webauthn provider, got %v", err)
	}
	if _, err := r.StartRegistration(ctx, "acme", "pw", "u1", ""); !errors.Is(err, ErrNoSuchAuthority) {
		t.Fatalf("expected ErrNoSuchAuthority for webauthn on password provider, got %v", err)
	}
	if _, err := r.StartAuthentication(ctx, "acme", "pw", "alice"); !errors.Is(err, ErrNoSuchAuthority) {
		t.Fatalf("expected ErrNoSuchAuthority for assertion on password provider, got %v", err)
	}
}

func TestRegistryDispatch(t *testing.T) {
	r, pw, wa := newTestRegistry(t)
	ctx := context.Background()
	pw.createUser(t, "u1", "alice", "correct horse")

	ok, err := r.VerifyPassword(ctx, "acme", "pw", "alice", "correct horse")
	if err != nil || !ok {
		t.Fatalf("VerifyPassword through registry: ok=%v err=%v", ok, err)
	}

	issued, err := r.RequestPasswordReset(ctx, "acme", "pw", "alice")
	if err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	if _, err := r.VerifyPasswordReset(ctx, "acme", "pw", issued.ResetKey); err != nil {
		t.Fatalf("VerifyPasswordReset failed: %v", err)
	}
	if _, err := r.ConfirmPasswordReset(ctx, "acme", "pw", issued.ResetKey); err != nil {
		t.Fatalf("ConfirmPasswordReset failed: %v", err)
	}

	a, err := r.LockAccount(ctx, "acme", "pw", "alice")
	if err != nil || a.Status != AccountLocked {
		t.Fatalf("LockAccount through registry: %+v (%v)", a, err)
	}
	if _, err := r.UnlockAccount(ctx, "acme", "pw", "alice"); err != nil {
		t.Fatalf("UnlockAccount failed: %v", err)
	}
	if _, err := r.LinkAccount(ctx, "acme", "pw", "alice", "u9"); err != nil {
		t.Fatalf("LinkAccount failed: %v", err)
	}
	if got, err := r.GetAccount(ctx, "acme", "pw", "alice"); err != nil || got.UserID != "u9" {
		t.Fatalf("GetAccount returned %+v (%v)", got, err)
	}
	if _, err := r.UpdateAccountStatus(ctx, "acme", "pw", "alice", AccountInactive); err != nil {
		t.Fatalf("UpdateAccountStatus failed: %v", err)
	}

	auth := newSoftAuthenticator(t, testRPID, testOrigin)
	start, err := r.StartRegistration(ctx, "acme", "passkeys", "u1", "laptop")
	if err != nil {
		t.Fatalf("StartRegistration failed: %v", err)
	}
	if _, err := r.FinishRegistration(ctx, "acme", "passkeys", "u1", start.State, auth.create(t, start.Options)); err != nil {
		t.Fatalf("FinishRegistration failed: %v", err)
	}
	view, err := r.SaveRegistration(ctx, "acme", "passkeys", "u1", start.State)
	if err != nil {
		t.Fatalf("SaveRegistration failed: %v", err)
	}
	if _, err := r.EditCredential(ctx, "acme", "passkeys", "u1", view.ID, "desk key"); err != nil {
		t.Fatalf("EditCredential failed: %v", err)
	}
	listed, err := r.ListCredentialsByUser(ctx, "acme", "passkeys", "u1")
	if err != nil || len(listed) != 1 || listed[0].DisplayName != "desk key" {
		t.Fatalf("ListCredentialsByUser returned %+v (%v)", listed, err)
	}

	as, err := r.StartAuthentication(ctx, "acme", "passkeys", "alice")
	if err != nil {
		t.Fatalf("StartAuthentication failed: %v", err)
	}
	res, err := r.FinishAuthentication(ctx, "acme", "passkeys", as.State, auth.get(t, as.Options, 1, false))
	if err != nil || res.UserID != "u1" {
		t.Fatalf("FinishAuthentication returned %+v (%v)", res, err)
	}

	if err := r.DeleteCredential(ctx, "acme", "passkeys", "u1", view.ID); err != nil {
		t.Fatalf("DeleteCredential failed: %v", err)
	}
	if wa.credentials.len() != 0 {
		t.Fatalf("expected credential removed")
	}
	if err := r.DeleteAccount(ctx, "acme", "pw", "alice"); err != nil {
		t.Fatalf("DeleteAccount failed: %v", err)
	}
}

func TestRegistryDeleteAccountsAcrossProviders(t *testing.T) {
	r, pw, wa := newTestRegistry(t)
	ctx := context.Background()
	pw.createUser(t, "u1", "alice", "correct horse")
	pw.createUser(t, "u2", "bob", "correct horse")
	wa.register(t, "u1", newSoftAuthenticator(t, testRPID, testOrigin))

	if err := r.DeleteAccounts(ctx, "acme", "u1"); err != nil {
		t.Fatalf("DeleteAccounts failed: %v", err)
	}

	if left, _ := pw.provider.ListAccounts(ctx, "u1"); len(left) != 0 {
		t.Fatalf("expected password accounts removed, got %d", len(left))
	}
	if left, _ := wa.provider.ListAccounts(ctx, "u1"); len(left) != 0 {
		t.Fatalf("expected webauthn accounts removed, got %d", len(left))
	}
	if wa.credentials.len() != 0 {
		t.Fatalf("expected webauthn credentials removed")
	}
	if _, err := pw.provider.GetAccount(ctx, "bob"); err != nil {
		t.Fatalf("other users must survive: %v", err)
	}

	// Another realm is out of reach.
	if err := r.DeleteAccounts(ctx, "globex", "u2"); err != nil {
		t.Fatalf("DeleteAccounts for an empty realm failed: %v", err)
	}
	if _, err := pw.provider.GetAccount(ctx, "bob"); err != nil {
		t.Fatalf("a foreign realm must not reach acme accounts: %v", err)
	}
}

func TestRegistryProvidersAndSnapshots(t *testing.T) {
	r, pw, _ := newTestRegistry(t)
	pw.createUser(t, "u1", "alice", "correct horse")
	_, _ = pw.provider.VerifyPassword(context.Background(), "alice", "correct horse")

	all := r.Providers()
	if len(all) != 2 || all[0].ProviderID() != "passkeys" || all[1].ProviderID() != "pw" {
		t.Fatalf("unexpected provider order %v", all)
	}

	snaps := r.Snapshots()
	if _, ok := snaps["acme/pw"]; !ok {
		t.Fatalf("missing acme/pw snapshot in %v", snaps)
	}
	if snaps["acme/pw"].Counters[MetricPasswordVerifySuccess] != 1 {
		t.Fatalf("unexpected per-provider counters %+v", snaps["acme/pw"].Counters)
	}
	if r.MetricsSnapshot().Counters[MetricPasswordVerifySuccess] != 1 {
		t.Fatalf("aggregate snapshot must include provider counters")
	}
	if r.AuditDropped() != 0 {
		t.Fatalf("expected no dropped audit events")
	}
}

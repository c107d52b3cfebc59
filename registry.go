package goIdP

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// CredentialManager is the part every provider shares: identity, lifecycle
// of the provider itself and observability.
type CredentialManager interface {
	Realm() string
	ProviderID() string
	RepositoryID() string
	Authority() string
	MetricsSnapshot() MetricsSnapshot
	AuditDropped() uint64
	Close()
}

// AccountLifecycle manages account status, linking and deletion.
type AccountLifecycle interface {
	GetAccount(ctx context.Context, accountID string) (Account, error)
	ListAccounts(ctx context.Context, userID string) ([]Account, error)
	LockAccount(ctx context.Context, accountID string) (Account, error)
	UnlockAccount(ctx context.Context, accountID string) (Account, error)
	UpdateAccountStatus(ctx context.Context, accountID string, status AccountStatus) (Account, error)
	LinkAccount(ctx context.Context, accountID, userID string) (Account, error)
	DeleteAccount(ctx context.Context, accountID string) error
	DeleteAccounts(ctx context.Context, userID string) error
}

// PasswordVerifier checks a password against stored credentials.
type PasswordVerifier interface {
	VerifyPassword(ctx context.Context, username, plaintext string) (bool, error)
}

// PasswordResetter runs the key-based reset flow.
type PasswordResetter interface {
	RequestPasswordReset(ctx context.Context, username string) (PasswordCredentialView, error)
	VerifyPasswordReset(ctx context.Context, key string) (PasswordCredentialView, error)
	ConfirmPasswordReset(ctx context.Context, key string) (PasswordCredentialView, error)
}

// CredentialRegistrar registers and maintains public-key credentials.
type CredentialRegistrar interface {
	StartRegistration(ctx context.Context, userID, displayName string) (RegistrationStart, error)
	FinishRegistration(ctx context.Context, userID, state string, response []byte) (WebAuthnCredentialView, error)
	SaveRegistration(ctx context.Context, userID, state string) (WebAuthnCredentialView, error)
	EditCredential(ctx context.Context, userID, id, displayName string) (WebAuthnCredentialView, error)
	DeleteCredential(ctx context.Context, userID, id string) error
	ListCredentialsByUser(ctx context.Context, userID string) ([]WebAuthnCredentialView, error)
}

// CredentialAuthenticator runs assertion ceremonies.
type CredentialAuthenticator interface {
	StartAuthentication(ctx context.Context, username string) (AuthenticationStart, error)
	FinishAuthentication(ctx context.Context, state string, response []byte) (AuthenticationResult, error)
}

var (
	_ CredentialManager       = (*PasswordProvider)(nil)
	_ AccountLifecycle        = (*PasswordProvider)(nil)
	_ PasswordVerifier        = (*PasswordProvider)(nil)
	_ PasswordResetter        = (*PasswordProvider)(nil)
	_ CredentialManager       = (*WebAuthnProvider)(nil)
	_ AccountLifecycle        = (*WebAuthnProvider)(nil)
	_ CredentialRegistrar     = (*WebAuthnProvider)(nil)
	_ CredentialAuthenticator = (*WebAuthnProvider)(nil)
)

// Registry maps (realm, provider id) to the manager serving it. The same
// provider id may be registered once per realm.
//
// Registry is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]map[string]CredentialManager // provider id -> realm -> manager
}

// NewRegistry returns a registry holding managers.
func NewRegistry(managers ...CredentialManager) (*Registry, error) {
	r := &Registry{
		providers: make(map[string]map[string]CredentialManager),
	}
	for _, m := range managers {
		if err := r.Register(m); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds m under its realm and provider id.
func (r *Registry) Register(m CredentialManager) error {
	if m == nil || m.ProviderID() == "" || m.Realm() == "" {
		return fmt.Errorf("%w: provider", ErrMissingData)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	byRealm, ok := r.providers[m.ProviderID()]
	if !ok {
		byRealm = make(map[string]CredentialManager)
		r.providers[m.ProviderID()] = byRealm
	}
	if _, exists := byRealm[m.Realm()]; exists {
		return fmt.Errorf("%w: provider %q already registered in realm %q", ErrIllegalState, m.ProviderID(), m.Realm())
	}
	byRealm[m.Realm()] = m
	return nil
}

// Unregister removes and returns the manager for (realm, providerID). The
// caller owns closing it.
func (r *Registry) Unregister(realm, providerID string) (CredentialManager, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byRealm, ok := r.providers[providerID]
	if !ok {
		return nil, false
	}
	m, ok := byRealm[realm]
	if !ok {
		return nil, false
	}
	delete(byRealm, realm)
	if len(byRealm) == 0 {
		delete(r.providers, providerID)
	}
	return m, true
}

// Resolve returns the manager for (realm, providerID). An unknown provider
// id fails with [ErrNoSuchProvider]; a provider id known only in other
// realms fails with IllegalArgument("realm-mismatch").
func (r *Registry) Resolve(realm, providerID string) (CredentialManager, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byRealm, ok := r.providers[providerID]
	if !ok || len(byRealm) == 0 {
		return nil, ErrNoSuchProvider
	}
	m, ok := byRealm[realm]
	if !ok {
		return nil, IllegalArgument(FieldRealmMismatch)
	}
	return m, nil
}

// Providers lists the registered managers ordered by realm then provider id.
func (r *Registry) Providers() []CredentialManager {
	r.mu.RLock()
	out := make([]CredentialManager, 0, len(r.providers))
	for _, byRealm := range r.providers {
		for _, m := range byRealm {
			out = append(out, m)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Realm() != out[j].Realm() {
			return out[i].Realm() < out[j].Realm()
		}
		return out[i].ProviderID() < out[j].ProviderID()
	})
	return out
}

// Snapshots returns the metrics of every provider keyed by "realm/provider".
func (r *Registry) Snapshots() map[string]MetricsSnapshot {
	out := make(map[string]MetricsSnapshot)
	for _, m := range r.Providers() {
		out[m.Realm()+"/"+m.ProviderID()] = m.MetricsSnapshot()
	}
	return out
}

// MetricsSnapshot sums the metrics of every provider.
func (r *Registry) MetricsSnapshot() MetricsSnapshot {
	total := emptySnapshot()
	for _, m := range r.Providers() {
		total.merge(m.MetricsSnapshot())
	}
	return total
}

// AuditDropped sums the dropped audit events of every provider.
func (r *Registry) AuditDropped() uint64 {
	var total uint64
	for _, m := range r.Providers() {
		total += m.AuditDropped()
	}
	return total
}

// Close closes every registered manager.
func (r *Registry) Close() {
	for _, m := range r.Providers() {
		m.Close()
	}
}

func resolveAs[T any](r *Registry, realm, providerID string) (T, error) {
	var zero T
	m, err := r.Resolve(realm, providerID)
	if err != nil {
		return zero, err
	}
	capability, ok := m.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s provider %q", ErrNoSuchAuthority, m.Authority(), providerID)
	}
	return capability, nil
}

/*
====================================
PASSWORD DISPATCH
====================================
*/

func (r *Registry) VerifyPassword(ctx context.Context, realm, providerID, username, plaintext string) (bool, error) {
	v, err := resolveAs[PasswordVerifier](r, realm, providerID)
	if err != nil {
		return false, err
	}
	return v.VerifyPassword(ctx, username, plaintext)
}

func (r *Registry) RequestPasswordReset(ctx context.Context, realm, providerID, username string) (PasswordCredentialView, error) {
	v, err := resolveAs[PasswordResetter](r, realm, providerID)
	if err != nil {
		return PasswordCredentialView{}, err
	}
	return v.RequestPasswordReset(ctx, username)
}

func (r *Registry) VerifyPasswordReset(ctx context.Context, realm, providerID, key string) (PasswordCredentialView, error) {
	v, err := resolveAs[PasswordResetter](r, realm, providerID)
	if err != nil {
		return PasswordCredentialView{}, err
	}
	return v.VerifyPasswordReset(ctx, key)
}

func (r *Registry) ConfirmPasswordReset(ctx context.Context, realm, providerID, key string) (PasswordCredentialView, error) {
	v, err := resolveAs[PasswordResetter](r, realm, providerID)
	if err != nil {
		return PasswordCredentialView{}, err
	}
	return v.ConfirmPasswordReset(ctx, key)
}

/*
====================================
WEBAUTHN DISPATCH
====================================
*/

func (r *Registry) StartRegistration(ctx context.Context, realm, providerID, userID, displayName string) (RegistrationStart, error) {
	v, err := resolveAs[CredentialRegistrar](r, realm, providerID)
	if err != nil {
		return RegistrationStart{}, err
	}
	return v.StartRegistration(ctx, userID, displayName)
}

func (r *Registry) FinishRegistration(ctx context.Context, realm, providerID, userID, state string, response []byte) (WebAuthnCredentialView, error) {
	v, err := resolveAs[CredentialRegistrar](r, realm, providerID)
	if err != nil {
		return WebAuthnCredentialView{}, err
	}
	return v.FinishRegistration(ctx, userID, state, response)
}

func (r *Registry) SaveRegistration(ctx context.Context, realm, providerID, userID, state string) (WebAuthnCredentialView, error) {
	v, err := resolveAs[CredentialRegistrar](r, realm, providerID)
	if err != nil {
		return WebAuthnCredentialView{}, err
	}
	return v.SaveRegistration(ctx, userID, state)
}

func (r *Registry) EditCredential(ctx context.Context, realm, providerID, userID, id, displayName string) (WebAuthnCredentialView, error) {
	v, err := resolveAs[CredentialRegistrar](r, realm, providerID)
	if err != nil {
		return WebAuthnCredentialView{}, err
	}
	return v.EditCredential(ctx, userID, id, displayName)
}

func (r *Registry) DeleteCredential(ctx context.Context, realm, providerID, userID, id string) error {
	v, err := resolveAs[CredentialRegistrar](r, realm, providerID)
	if err != nil {
		return err
	}
	return v.DeleteCredential(ctx, userID, id)
}

func (r *Registry) ListCredentialsByUser(ctx context.Context, realm, providerID, userID string) ([]WebAuthnCredentialView, error) {
	v, err := resolveAs[CredentialRegistrar](r, realm, providerID)
	if err != nil {
		return nil, err
	}
	return v.ListCredentialsByUser(ctx, userID)
}

func (r *Registry) StartAuthentication(ctx context.Context, realm, providerID, username string) (AuthenticationStart, error) {
	v, err := resolveAs[CredentialAuthenticator](r, realm, providerID)
	if err != nil {
		return AuthenticationStart{}, err
	}
	return v.StartAuthentication(ctx, username)
}

func (r *Registry) FinishAuthentication(ctx context.Context, realm, providerID, state string, response []byte) (AuthenticationResult, error) {
	v, err := resolveAs[CredentialAuthenticator](r, realm, providerID)
	if err != nil {
		return AuthenticationResult{}, err
	}
	return v.FinishAuthentication(ctx, state, response)
}

/*
====================================
ACCOUNT DISPATCH
====================================
*/

func (r *Registry) GetAccount(ctx context.Context, realm, providerID, accountID string) (Account, error) {
	v, err := resolveAs[AccountLifecycle](r, realm, providerID)
	if err != nil {
		return Account{}, err
	}
	return v.GetAccount(ctx, accountID)
}

func (r *Registry) LockAccount(ctx context.Context, realm, providerID, accountID string) (Account, error) {
	v, err := resolveAs[AccountLifecycle](r, realm, providerID)
	if err != nil {
		return Account{}, err
	}
	return v.LockAccount(ctx, accountID)
}

func (r *Registry) UnlockAccount(ctx context.Context, realm, providerID, accountID string) (Account, error) {
	v, err := resolveAs[AccountLifecycle](r, realm, providerID)
	if err != nil {
		return Account{}, err
	}
	return v.UnlockAccount(ctx, accountID)
}

func (r *Registry) UpdateAccountStatus(ctx context.Context, realm, providerID, accountID string, status AccountStatus) (Account, error) {
	v, err := resolveAs[AccountLifecycle](r, realm, providerID)
	if err != nil {
		return Account{}, err
	}
	return v.UpdateAccountStatus(ctx, accountID, status)
}

func (r *Registry) LinkAccount(ctx context.Context, realm, providerID, accountID, userID string) (Account, error) {
	v, err := resolveAs[AccountLifecycle](r, realm, providerID)
	if err != nil {
		return Account{}, err
	}
	return v.LinkAccount(ctx, accountID, userID)
}

func (r *Registry) DeleteAccount(ctx context.Context, realm, providerID, accountID string) error {
	v, err := resolveAs[AccountLifecycle](r, realm, providerID)
	if err != nil {
		return err
	}
	return v.DeleteAccount(ctx, accountID)
}

// DeleteAccounts removes userID's accounts from every provider of realm.
// Providers are visited in provider id order; the first failure stops the
// walk.
func (r *Registry) DeleteAccounts(ctx context.Context, realm, userID string) error {
	for _, m := range r.Providers() {
		if m.Realm() != realm {
			continue
		}
		lc, ok := m.(AccountLifecycle)
		if !ok {
			continue
		}
		if err := lc.DeleteAccounts(ctx, userID); err != nil {
			return fmt.Errorf("%s: %w", m.ProviderID(), err)
		}
	}
	return nil
}

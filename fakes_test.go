package goIdP

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

const testSigningKey = "0123456789abcdef0123456789abcdef"

type memAccounts struct {
	mu   sync.Mutex
	rows map[string]Account
	fail error
}

func newMemAccounts() *memAccounts {
	return &memAccounts{rows: map[string]Account{}}
}

func accountKey(repo, id string) string { return repo + "\x00" + id }

func (s *memAccounts) FindByID(_ context.Context, repo, id string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return Account{}, s.fail
	}
	a, ok := s.rows[accountKey(repo, id)]
	if !ok {
		return Account{}, ErrRecordNotFound
	}
	return a, nil
}

func (s *memAccounts) FindByUser(_ context.Context, repo, userID string) ([]Account, error) {
	return s.filter(repo, func(a Account) bool { return a.UserID == userID })
}

func (s *memAccounts) FindByEmail(_ context.Context, repo, email string) ([]Account, error) {
	return s.filter(repo, func(a Account) bool { return strings.EqualFold(a.Email, email) })
}

func (s *memAccounts) FindByUserHandle(_ context.Context, repo string, handle []byte) (Account, error) {
	if len(handle) == 0 {
		return Account{}, ErrRecordNotFound
	}
	out, err := s.filter(repo, func(a Account) bool { return bytes.Equal(a.UserHandle, handle) })
	if err != nil {
		return Account{}, err
	}
	if len(out) == 0 {
		return Account{}, ErrRecordNotFound
	}
	return out[0], nil
}

func (s *memAccounts) filter(repo string, match func(Account) bool) ([]Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	out := []Account{}
	for _, a := range s.rows {
		if a.RepositoryID == repo && match(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out, nil
}

func (s *memAccounts) Add(_ context.Context, a Account) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := accountKey(a.RepositoryID, a.AccountID)
	if _, ok := s.rows[k]; ok {
		return Account{}, ErrDuplicateRecord
	}
	if a.Version == 0 {
		a.Version = 1
	}
	s.rows[k] = a
	return a, nil
}

func (s *memAccounts) Update(_ context.Context, a Account, expected uint64) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := accountKey(a.RepositoryID, a.AccountID)
	cur, ok := s.rows[k]
	if !ok {
		return Account{}, ErrRecordNotFound
	}
	if cur.Version != expected {
		return Account{}, ErrVersionConflict
	}
	a.Version = expected + 1
	s.rows[k] = a
	return a, nil
}

func (s *memAccounts) Delete(_ context.Context, repo, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, accountKey(repo, id))
	return nil
}

// bump changes the stored version behind the engine's back.
func (s *memAccounts) bump(repo, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := accountKey(repo, id)
	a := s.rows[k]
	a.Version++
	s.rows[k] = a
}

type memPasswords struct {
	mu   sync.Mutex
	rows map[string]PasswordCredential
}

func newMemPasswords() *memPasswords {
	return &memPasswords{rows: map[string]PasswordCredential{}}
}

func (s *memPasswords) FindByAccount(_ context.Context, repo, accountID string) ([]PasswordCredential, error) {
	return s.filter(repo, func(c PasswordCredential) bool { return c.AccountID == accountID }), nil
}

func (s *memPasswords) FindByUser(_ context.Context, repo, userID string) ([]PasswordCredential, error) {
	return s.filter(repo, func(c PasswordCredential) bool { return c.UserID == userID }), nil
}

func (s *memPasswords) filter(repo string, match func(PasswordCredential) bool) []PasswordCredential {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []PasswordCredential{}
	for _, c := range s.rows {
		if c.RepositoryID == repo && match(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *memPasswords) FindByID(_ context.Context, repo, id string) (PasswordCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.rows[id]
	if !ok || c.RepositoryID != repo {
		return PasswordCredential{}, ErrRecordNotFound
	}
	return c, nil
}

func (s *memPasswords) FindByResetKey(_ context.Context, repo, hash string) (PasswordCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if hash == "" {
		return PasswordCredential{}, ErrRecordNotFound
	}
	for _, c := range s.rows {
		if c.RepositoryID == repo && c.ResetKeyHash == hash {
			return c, nil
		}
	}
	return PasswordCredential{}, ErrRecordNotFound
}

func (s *memPasswords) Add(_ context.Context, c PasswordCredential) (PasswordCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[c.ID]; ok {
		return PasswordCredential{}, ErrDuplicateRecord
	}
	if c.Version == 0 {
		c.Version = 1
	}
	s.rows[c.ID] = c
	return c, nil
}

func (s *memPasswords) Update(_ context.Context, c PasswordCredential, expected uint64) (PasswordCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.rows[c.ID]
	if !ok {
		return PasswordCredential{}, ErrRecordNotFound
	}
	if cur.Version != expected {
		return PasswordCredential{}, ErrVersionConflict
	}
	c.Version = expected + 1
	s.rows[c.ID] = c
	return c, nil
}

func (s *memPasswords) RebindUser(_ context.Context, repo, accountID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.rows {
		if c.RepositoryID == repo && c.AccountID == accountID && c.UserID != userID {
			c.UserID = userID
			c.Version++
			s.rows[id] = c
		}
	}
	return nil
}

func (s *memPasswords) DeleteByAccount(_ context.Context, repo, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.rows {
		if c.RepositoryID == repo && c.AccountID == accountID {
			delete(s.rows, id)
		}
	}
	return nil
}

func (s *memPasswords) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func (s *memPasswords) get(id string) PasswordCredential {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[id]
}

type memWebAuthn struct {
	mu   sync.Mutex
	rows map[string]WebAuthnCredential
}

func newMemWebAuthn() *memWebAuthn {
	return &memWebAuthn{rows: map[string]WebAuthnCredential{}}
}

func (s *memWebAuthn) FindByID(_ context.Context, repo, id string) (WebAuthnCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.rows[id]
	if !ok || c.RepositoryID != repo {
		return WebAuthnCredential{}, ErrRecordNotFound
	}
	return c, nil
}

func (s *memWebAuthn) FindByUser(_ context.Context, repo, userID string) ([]WebAuthnCredential, error) {
	return s.filter(repo, func(c WebAuthnCredential) bool { return c.UserID == userID }), nil
}

func (s *memWebAuthn) FindByUserHandle(_ context.Context, repo string, handle []byte) ([]WebAuthnCredential, error) {
	return s.filter(repo, func(c WebAuthnCredential) bool { return bytes.Equal(c.UserHandle, handle) }), nil
}

func (s *memWebAuthn) FindByUserHandleAndCredentialID(_ context.Context, repo string, handle []byte, credentialID string) (WebAuthnCredential, error) {
	out := s.filter(repo, func(c WebAuthnCredential) bool {
		return bytes.Equal(c.UserHandle, handle) && c.CredentialID == credentialID
	})
	if len(out) == 0 {
		return WebAuthnCredential{}, ErrRecordNotFound
	}
	return out[0], nil
}

func (s *memWebAuthn) filter(repo string, match func(WebAuthnCredential) bool) []WebAuthnCredential {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []WebAuthnCredential{}
	for _, c := range s.rows {
		if c.RepositoryID == repo && match(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CredentialID < out[j].CredentialID })
	return out
}

func (s *memWebAuthn) Add(_ context.Context, c WebAuthnCredential) (WebAuthnCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cur := range s.rows {
		if cur.RepositoryID == c.RepositoryID && bytes.Equal(cur.UserHandle, c.UserHandle) && cur.CredentialID == c.CredentialID {
			return WebAuthnCredential{}, ErrDuplicateRecord
		}
	}
	s.rows[c.ID] = c
	return c, nil
}

func (s *memWebAuthn) UpdateSignatureCount(_ context.Context, repo, id string, expected, next int64, usedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.rows[id]
	if !ok || c.RepositoryID != repo {
		return ErrRecordNotFound
	}
	if c.SignatureCount != expected {
		return ErrCounterConflict
	}
	c.SignatureCount = next
	c.LastUsedAt = &usedAt
	c.UpdatedAt = usedAt
	s.rows[id] = c
	return nil
}

func (s *memWebAuthn) UpdateDisplayName(_ context.Context, repo, id, name string) (WebAuthnCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.rows[id]
	if !ok || c.RepositoryID != repo {
		return WebAuthnCredential{}, ErrRecordNotFound
	}
	c.DisplayName = name
	s.rows[id] = c
	return c, nil
}

func (s *memWebAuthn) Delete(_ context.Context, repo, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.rows[id]; ok && c.RepositoryID == repo {
		delete(s.rows, id)
	}
	return nil
}

func (s *memWebAuthn) RebindUser(_ context.Context, repo, accountID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.rows {
		if c.RepositoryID == repo && c.AccountID == accountID {
			c.UserID = userID
			s.rows[id] = c
		}
	}
	return nil
}

func (s *memWebAuthn) DeleteByUser(_ context.Context, repo, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.rows {
		if c.RepositoryID == repo && c.UserID == userID {
			delete(s.rows, id)
		}
	}
	return nil
}

// setCount forces the stored counter, as a second device sharing the key would.
func (s *memWebAuthn) setCount(id string, count int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.rows[id]
	c.SignatureCount = count
	s.rows[id] = c
}

func (s *memWebAuthn) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

type sentMessage struct {
	to       string
	template string
	locale   string
	vars     map[string]any
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (n *recordingNotifier) Send(_ context.Context, to, template, locale string, vars map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, sentMessage{to: to, template: template, locale: locale, vars: vars})
	return nil
}

func (n *recordingNotifier) messages() []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentMessage(nil), n.sent...)
}

type staticRealms map[string]RealmInfo

func (r staticRealms) FindRealm(_ context.Context, realm string) (RealmInfo, error) {
	info, ok := r[realm]
	if !ok {
		return RealmInfo{}, ErrNotFound
	}
	return info, nil
}

type staticDirectory map[string]UserInfo

func (d staticDirectory) FindUser(_ context.Context, userID string) (UserInfo, error) {
	info, ok := d[userID]
	if !ok {
		return UserInfo{}, ErrNotFound
	}
	return info, nil
}

type memIndex struct {
	mu   sync.Mutex
	rows map[string]Resource
	err  error
}

func newMemIndex() *memIndex {
	return &memIndex{rows: map[string]Resource{}}
}

func (i *memIndex) Put(_ context.Context, r Resource) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.err != nil {
		return i.err
	}
	i.rows[r.UUID] = r
	return nil
}

func (i *memIndex) Remove(_ context.Context, id string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.err != nil {
		return i.err
	}
	delete(i.rows, id)
	return nil
}

func (i *memIndex) get(id string) Resource {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.rows[id]
}

func (i *memIndex) has(id string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.rows[id]
	return ok
}

type recordingSink struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (s *recordingSink) Emit(_ context.Context, e AuditEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) ofType(eventType string) []AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []AuditEvent
	for _, e := range s.events {
		if e.Action == eventType {
			out = append(out, e)
		}
	}
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func testLogger() logrus.FieldLogger {
	log, _ := test.NewNullLogger()
	return log
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Realm = "acme"
	cfg.ProviderID = "pw"
	cfg.Password.Iterations = 10000
	cfg.Password.MinLength = 8
	cfg.PasswordReset.LinkBaseURL = "https://id.acme.test/reset"
	cfg.WebAuthn.RPID = "id.acme.test"
	cfg.WebAuthn.RPDisplayName = "Acme"
	cfg.WebAuthn.RPOrigins = []string{"https://id.acme.test"}
	cfg.Ceremony.SigningKey = testSigningKey
	return cfg
}

type passwordFixture struct {
	provider  *PasswordProvider
	accounts  *memAccounts
	passwords *memPasswords
	notifier  *recordingNotifier
	index     *memIndex
	sink      *recordingSink
	clock     *fakeClock
}

func newPasswordFixture(t *testing.T, mutate func(*Config, *Builder)) *passwordFixture {
	t.Helper()

	f := &passwordFixture{
		accounts:  newMemAccounts(),
		passwords: newMemPasswords(),
		notifier:  &recordingNotifier{},
		index:     newMemIndex(),
		sink:      &recordingSink{},
		clock:     newFakeClock(),
	}

	cfg := testConfig()
	cfg.Metrics.Enabled = true
	cfg.Audit.Enabled = true
	cfg.Audit.DropIfFull = false
	b := New().
		WithAccountStore(f.accounts).
		WithPasswordStore(f.passwords).
		WithNotificationService(f.notifier).
		WithRealmResolver(staticRealms{"acme": {Slug: "acme", Name: "Acme Corp"}}).
		WithResourceIndex(f.index).
		WithAuditSink(f.sink).
		WithLogger(testLogger()).
		WithClock(f.clock.Now)
	if mutate != nil {
		mutate(&cfg, b)
	}
	b.WithConfig(cfg)

	p, err := b.BuildPassword()
	if err != nil {
		t.Fatalf("BuildPassword failed: %v", err)
	}
	t.Cleanup(p.Close)
	f.provider = p
	return f
}

// createUser registers username for userID with plaintext as its password.
func (f *passwordFixture) createUser(t *testing.T, userID, username, plaintext string) Account {
	t.Helper()
	a, err := f.provider.CreateAccount(context.Background(), userID, username, username+"@acme.test", plaintext)
	if err != nil {
		t.Fatalf("CreateAccount(%s) failed: %v", username, err)
	}
	return a
}

func (f *passwordFixture) activeCredentials(t *testing.T, userID string) []PasswordCredential {
	t.Helper()
	all, _ := f.passwords.FindByUser(context.Background(), f.provider.RepositoryID(), userID)
	var out []PasswordCredential
	for _, c := range all {
		if c.Status == CredentialActive {
			out = append(out, c)
		}
	}
	return out
}

func requireErrorIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}

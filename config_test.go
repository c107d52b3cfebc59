package goIdP

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigNeedsIdentity(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected defaults without realm and provider to fail")
	}

	cfg.Realm = "acme"
	cfg.ProviderID = "pw"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults with identity to validate, got %v", err)
	}
	if cfg.repositoryID() != "pw" {
		t.Fatalf("repository must default to the provider id, got %q", cfg.repositoryID())
	}
	cfg.RepositoryID = "shared"
	if cfg.repositoryID() != "shared" {
		t.Fatalf("explicit repository ignored")
	}
}

func TestConfigValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"realm with colon", func(c *Config) { c.Realm = "ac:me" }},
		{"provider with space", func(c *Config) { c.ProviderID = "p w" }},
		{"weak pbkdf2", func(c *Config) { c.Password.Iterations = 1000 }},
		{"weak argon2 memory", func(c *Config) {
			c.Password.Algorithm = PasswordArgon2
			c.Password.Memory = 1024
		}},
		{"unknown algorithm", func(c *Config) { c.Password.Algorithm = "md5" }},
		{"short salt", func(c *Config) { c.Password.SaltLength = 8 }},
		{"max below min", func(c *Config) { c.Password.MaxLength = 4 }},
		{"negative max age", func(c *Config) { c.Password.MaxAge = -time.Second }},
		{"zero reset ttl", func(c *Config) { c.PasswordReset.ResetTTL = 0 }},
		{"short reset key", func(c *Config) { c.PasswordReset.KeyLength = 4 }},
		{"link without param", func(c *Config) { c.PasswordReset.LinkParam = "" }},
		{"bad link url", func(c *Config) { c.PasswordReset.LinkBaseURL = "not a url" }},
		{"throttle without window", func(c *Config) { c.PasswordReset.ThrottleWindow = 0 }},
		{"long challenge ttl", func(c *Config) { c.WebAuthn.ChallengeTTL = time.Hour }},
		{"bad attestation", func(c *Config) { c.WebAuthn.AttestationPreference = "always" }},
		{"empty redis prefix", func(c *Config) { c.Ceremony.RedisPrefix = "" }},
		{"audit without buffer", func(c *Config) {
			c.Audit.Enabled = true
			c.Audit.BufferSize = 0
		}},
		{"too many retries", func(c *Config) { c.Account.MaxUpdateRetries = 64 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestDisabledResetSkipsResetChecks(t *testing.T) {
	cfg := testConfig()
	cfg.PasswordReset.Enabled = false
	cfg.PasswordReset.ResetTTL = 0
	cfg.PasswordReset.KeyLength = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("reset settings must be ignored when disabled, got %v", err)
	}
}

func TestResolveConfigAppliesOverridesInOrder(t *testing.T) {
	base := testConfig()
	base.WebAuthn.RPOrigins = []string{"https://a.test"}

	cfg, err := ResolveConfig(base,
		func(c *Config) { c.PasswordReset.ResetTTL = time.Minute },
		nil,
		func(c *Config) { c.PasswordReset.ResetTTL = 2 * time.Minute },
		func(c *Config) { c.WebAuthn.RPOrigins[0] = "https://b.test" },
	)
	if err != nil {
		t.Fatalf("ResolveConfig failed: %v", err)
	}
	if cfg.PasswordReset.ResetTTL != 2*time.Minute {
		t.Fatalf("expected last override to win, got %v", cfg.PasswordReset.ResetTTL)
	}
	if base.WebAuthn.RPOrigins[0] != "https://a.test" {
		t.Fatalf("overrides must not leak into the defaults")
	}

	if _, err := ResolveConfig(base, func(c *Config) { c.Realm = "" }); err == nil {
		t.Fatalf("expected invalid override to fail")
	}
}

func TestValidateWebAuthn(t *testing.T) {
	cfg := testConfig()
	if err := cfg.validateWebAuthn(); err != nil {
		t.Fatalf("expected test relying party valid, got %v", err)
	}

	cases := map[string]func(*Config){
		"missing rp id":     func(c *Config) { c.WebAuthn.RPID = "" },
		"missing rp name":   func(c *Config) { c.WebAuthn.RPDisplayName = "" },
		"no origins":        func(c *Config) { c.WebAuthn.RPOrigins = nil },
		"relative origin":   func(c *Config) { c.WebAuthn.RPOrigins = []string{"id.acme.test"} },
		"short signing key": func(c *Config) { c.Ceremony.SigningKey = "short" },
		"zero name length":  func(c *Config) { c.WebAuthn.MaxDisplayNameLength = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := testConfig()
			mutate(&c)
			if err := c.validateWebAuthn(); err == nil {
				t.Fatalf("expected relying party error")
			}
		})
	}
}

const providersYAML = `
defaults:
  passwordReset:
    resetTTL: 10m
    linkBaseURL: https://id.acme.test/reset
  ceremony:
    signingKey: 0123456789abcdef0123456789abcdef
  logging:
    level: debug
providers:
  - authority: password
    realm: acme
    provider: acme-password
    password:
      iterations: 20000
  - authority: webauthn
    realm: acme
    provider: acme-passkeys
    webauthn:
      rpID: id.acme.test
      rpDisplayName: Acme
      rpOrigins: [https://id.acme.test]
  - authority: password
    realm: globex
    provider: acme-password
    passwordReset:
      enabled: false
`

func TestParseProviders(t *testing.T) {
	providers, err := ParseProviders(strings.NewReader(providersYAML))
	if err != nil {
		t.Fatalf("ParseProviders failed: %v", err)
	}
	if len(providers) != 3 {
		t.Fatalf("expected 3 providers, got %d", len(providers))
	}

	pw := providers[0]
	if pw.Authority != AuthorityPassword || pw.Realm != "acme" || pw.ProviderID != "acme-password" {
		t.Fatalf("unexpected identity %+v", pw)
	}
	if pw.Password.Iterations != 20000 {
		t.Fatalf("expected provider override, got %d", pw.Password.Iterations)
	}
	if pw.PasswordReset.ResetTTL != 10*time.Minute || pw.PasswordReset.LinkParam != "code" {
		t.Fatalf("expected defaults layered over built-ins, got %+v", pw.PasswordReset)
	}
	if pw.Logging.Level != "debug" {
		t.Fatalf("expected logging default applied, got %q", pw.Logging.Level)
	}

	wa := providers[1]
	if wa.WebAuthn.RPID != "id.acme.test" || wa.WebAuthn.ChallengeTTL != 2*time.Minute {
		t.Fatalf("unexpected webauthn config %+v", wa.WebAuthn)
	}
	if wa.Password.Iterations != 310000 {
		t.Fatalf("sibling overrides must not leak, got %d", wa.Password.Iterations)
	}

	if providers[2].PasswordReset.Enabled {
		t.Fatalf("expected reset disabled for globex")
	}
}

func TestParseProvidersRejects(t *testing.T) {
	cases := map[string]string{
		"empty": ``,
		"unknown authority": `
providers:
  - authority: sms
    realm: acme
    provider: otp
`,
		"duplicate in realm": `
providers:
  - authority: password
    realm: acme
    provider: pw
  - authority: password
    realm: acme
    provider: pw
`,
		"invalid config": `
providers:
  - authority: password
    realm: acme
    provider: pw
    password:
      iterations: 10
`,
		"webauthn without relying party": `
defaults:
  ceremony:
    signingKey: 0123456789abcdef0123456789abcdef
providers:
  - authority: webauthn
    realm: acme
    provider: keys
`,
		"unknown top-level key": `
provider:
  - authority: password
`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseProviders(strings.NewReader(doc)); err == nil {
				t.Fatalf("expected parse error")
			}
		})
	}
}

func TestLoadProvidersFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.yaml")
	if err := os.WriteFile(path, []byte(providersYAML), 0o600); err != nil {
		t.Fatalf("write providers file: %v", err)
	}
	providers, err := LoadProvidersFile(path)
	if err != nil || len(providers) != 3 {
		t.Fatalf("LoadProvidersFile returned %d (%v)", len(providers), err)
	}

	if _, err := LoadProvidersFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected missing file error")
	}
}

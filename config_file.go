package goIdP

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// ProviderConfig is one entry of a providers file: the mechanism to build and
// its fully resolved [Config].
type ProviderConfig struct {
	Authority string `yaml:"authority"`
	Config    `yaml:",inline"`
}

type providersDocument struct {
	Defaults  yaml.Node   `yaml:"defaults"`
	Providers []yaml.Node `yaml:"providers"`
}

// LoadProvidersFile reads a YAML providers file from path.
//
// The file has a `defaults:` mapping and a `providers:` list. Defaults are
// applied over [DefaultConfig] and each provider entry is applied over the
// resolved defaults, once, here. Nothing is merged again at lookup time.
//
//	defaults:
//	  passwordReset:
//	    resetTTL: 15m
//	providers:
//	  - authority: password
//	    realm: acme
//	    provider: acme-password
func LoadProvidersFile(path string) ([]ProviderConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseProviders(bytes.NewReader(raw))
}

// ParseProviders is [LoadProvidersFile] over an arbitrary reader.
func ParseProviders(r io.Reader) ([]ProviderConfig, error) {
	var doc providersDocument
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("providers file is empty")
		}
		return nil, fmt.Errorf("decode providers file: %w", err)
	}

	defaults := defaultConfig()
	if !doc.Defaults.IsZero() {
		if err := doc.Defaults.Decode(&defaults); err != nil {
			return nil, fmt.Errorf("decode defaults: %w", err)
		}
	}

	seen := make(map[string]struct{}, len(doc.Providers))
	out := make([]ProviderConfig, 0, len(doc.Providers))
	for i := range doc.Providers {
		entry := ProviderConfig{Config: cloneConfig(defaults)}
		if err := doc.Providers[i].Decode(&entry); err != nil {
			return nil, fmt.Errorf("decode provider %d: %w", i, err)
		}
		switch entry.Authority {
		case AuthorityPassword, AuthorityWebAuthn:
		default:
			return nil, fmt.Errorf("provider %d: unknown authority %q", i, entry.Authority)
		}
		key := entry.Realm + "/" + entry.ProviderID
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("provider %q declared twice in realm %q", entry.ProviderID, entry.Realm)
		}
		seen[key] = struct{}{}

		if err := entry.Config.Validate(); err != nil {
			return nil, fmt.Errorf("provider %q: %w", entry.ProviderID, err)
		}
		if entry.Authority == AuthorityWebAuthn {
			if err := entry.Config.validateWebAuthn(); err != nil {
				return nil, fmt.Errorf("provider %q: %w", entry.ProviderID, err)
			}
		}
		out = append(out, entry)
	}

	return out, nil
}

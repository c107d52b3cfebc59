package goIdP

import (
	"encoding/base64"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// webAuthnUser adapts one account and its stored credentials to the
// webauthn.User interface. The handle is the opaque user.id sent to
// authenticators; it never carries the username.
type webAuthnUser struct {
	handle      []byte
	name        string
	displayName string
	credentials []webauthn.Credential
}

func newWebAuthnUser(handle []byte, name, displayName string, creds []WebAuthnCredential) *webAuthnUser {
	u := &webAuthnUser{
		handle:      handle,
		name:        name,
		displayName: displayName,
	}
	for _, c := range creds {
		if c.Status != CredentialActive {
			continue
		}
		lc, err := toLibraryCredential(c)
		if err != nil {
			continue
		}
		u.credentials = append(u.credentials, lc)
	}
	return u
}

func (u *webAuthnUser) WebAuthnID() []byte {
	return u.handle
}

func (u *webAuthnUser) WebAuthnName() string {
	return u.name
}

func (u *webAuthnUser) WebAuthnDisplayName() string {
	if u.displayName == "" {
		return u.name
	}
	return u.displayName
}

func (u *webAuthnUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}

func (u *webAuthnUser) descriptors() []protocol.CredentialDescriptor {
	return webauthn.Credentials(u.credentials).CredentialDescriptors()
}

// toLibraryCredential rebuilds the verifier's view of a stored credential.
// Only the fields the assertion checks read are populated.
func toLibraryCredential(c WebAuthnCredential) (webauthn.Credential, error) {
	rawID, err := base64.RawURLEncoding.DecodeString(c.CredentialID)
	if err != nil {
		return webauthn.Credential{}, err
	}

	transports := make([]protocol.AuthenticatorTransport, 0, len(c.Transports))
	for _, t := range c.Transports {
		transports = append(transports, protocol.AuthenticatorTransport(t))
	}

	return webauthn.Credential{
		ID:              rawID,
		PublicKey:       c.PublicKeyCOSE,
		AttestationType: c.AttestationType,
		Transport:       transports,
		Flags: webauthn.CredentialFlags{
			UserPresent:    true,
			UserVerified:   c.UserVerified,
			BackupEligible: c.BackupEligible,
			BackupState:    c.BackupState,
		},
		Authenticator: webauthn.Authenticator{
			AAGUID:    c.AAGUID,
			SignCount: uint32(c.SignatureCount),
		},
	}, nil
}

var markupPattern = regexp.MustCompile(`<[^>]*>`)

// sanitizeDisplayName strips markup and control characters and caps the
// result at max runes.
func sanitizeDisplayName(name string, max int) string {
	name = markupPattern.ReplaceAllString(name, "")
	name = strings.Map(func(r rune) rune {
		if r == '<' || r == '>' || unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	name = strings.Join(strings.Fields(name), " ")

	if max > 0 && utf8.RuneCountInString(name) > max {
		name = strings.TrimSpace(string([]rune(name)[:max]))
	}
	return name
}

// discoverableFromExtensions reads the credProps client extension output.
// Nil means the client did not report whether the key is resident.
func discoverableFromExtensions(outputs protocol.AuthenticationExtensionsClientOutputs) *bool {
	props, ok := outputs["credProps"].(map[string]any)
	if !ok {
		return nil
	}
	rk, ok := props["rk"].(bool)
	if !ok {
		return nil
	}
	return &rk
}

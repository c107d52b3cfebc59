package goIdP

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/go-webauthn/webauthn/protocol"
)

const (
	flagUserPresent  byte = 0x01
	flagUserVerified byte = 0x04
	flagAttestedData byte = 0x40
)

// softAuthenticator is an ES256 platform authenticator that answers
// ceremonies in memory with "none" attestation.
type softAuthenticator struct {
	key     *ecdsa.PrivateKey
	id      []byte
	handle  []byte
	rpID    string
	origin  string
	counter uint32
}

func newSoftAuthenticator(t *testing.T, rpID, origin string) *softAuthenticator {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	id := make([]byte, 16)
	if _, err := rand.Read(id); err != nil {
		t.Fatalf("generate credential id: %v", err)
	}
	return &softAuthenticator{key: key, id: id, rpID: rpID, origin: origin}
}

func (a *softAuthenticator) credentialID() string {
	return base64.RawURLEncoding.EncodeToString(a.id)
}

func (a *softAuthenticator) cosePublicKey(t *testing.T) []byte {
	t.Helper()

	pub, err := a.key.PublicKey.ECDH()
	if err != nil {
		t.Fatalf("ecdh public key: %v", err)
	}
	raw := pub.Bytes()
	out, err := cbor.Marshal(map[int]any{
		1:  2,  // kty: EC2
		3:  -7, // alg: ES256
		-1: 1,  // crv: P-256
		-2: raw[1:33],
		-3: raw[33:65],
	})
	if err != nil {
		t.Fatalf("encode cose key: %v", err)
	}
	return out
}

func (a *softAuthenticator) authData(flags byte, counter uint32) []byte {
	rpHash := sha256.Sum256([]byte(a.rpID))
	out := make([]byte, 0, 37)
	out = append(out, rpHash[:]...)
	out = append(out, flags)
	out = binary.BigEndian.AppendUint32(out, counter)
	return out
}

func (a *softAuthenticator) clientData(t *testing.T, ceremony protocol.CeremonyType, challenge string) []byte {
	t.Helper()
	out, err := json.Marshal(map[string]any{
		"type":        string(ceremony),
		"challenge":   challenge,
		"origin":      a.origin,
		"crossOrigin": false,
	})
	if err != nil {
		t.Fatalf("encode client data: %v", err)
	}
	return out
}

// create answers a registration with the options returned by
// StartRegistration.
func (a *softAuthenticator) create(t *testing.T, opts *protocol.CredentialCreation) []byte {
	t.Helper()

	handle, ok := opts.Response.User.ID.(protocol.URLEncodedBase64)
	if !ok {
		t.Fatalf("unexpected user id type %T", opts.Response.User.ID)
	}
	a.handle = append([]byte(nil), handle...)
	return a.createWithChallenge(t, opts.Response.Challenge.String())
}

func (a *softAuthenticator) createWithChallenge(t *testing.T, challenge string) []byte {
	t.Helper()

	authData := a.authData(flagUserPresent|flagUserVerified|flagAttestedData, a.counter)
	authData = append(authData, make([]byte, 16)...) // zero AAGUID
	authData = binary.BigEndian.AppendUint16(authData, uint16(len(a.id)))
	authData = append(authData, a.id...)
	authData = append(authData, a.cosePublicKey(t)...)

	attestation, err := cbor.Marshal(struct {
		Fmt      string         `cbor:"fmt"`
		AttStmt  map[string]any `cbor:"attStmt"`
		AuthData []byte         `cbor:"authData"`
	}{
		Fmt:      "none",
		AttStmt:  map[string]any{},
		AuthData: authData,
	})
	if err != nil {
		t.Fatalf("encode attestation object: %v", err)
	}

	b64 := base64.RawURLEncoding.EncodeToString
	body, err := json.Marshal(map[string]any{
		"id":    a.credentialID(),
		"rawId": a.credentialID(),
		"type":  "public-key",
		"response": map[string]any{
			"clientDataJSON":    b64(a.clientData(t, protocol.CreateCeremony, challenge)),
			"attestationObject": b64(attestation),
			"transports":        []string{"internal"},
		},
		"clientExtensionResults": map[string]any{
			"credProps": map[string]any{"rk": true},
		},
	})
	if err != nil {
		t.Fatalf("encode registration response: %v", err)
	}
	return body
}

// get answers an assertion presenting counter. The user handle is included
// only when withHandle is set, as for discoverable credentials.
func (a *softAuthenticator) get(t *testing.T, opts *protocol.CredentialAssertion, counter uint32, withHandle bool) []byte {
	t.Helper()

	authData := a.authData(flagUserPresent|flagUserVerified, counter)
	clientData := a.clientData(t, protocol.AssertCeremony, opts.Response.Challenge.String())
	clientHash := sha256.Sum256(clientData)
	digest := sha256.Sum256(append(append([]byte(nil), authData...), clientHash[:]...))

	sig, err := ecdsa.SignASN1(rand.Reader, a.key, digest[:])
	if err != nil {
		t.Fatalf("sign assertion: %v", err)
	}

	b64 := base64.RawURLEncoding.EncodeToString
	response := map[string]any{
		"clientDataJSON":    b64(clientData),
		"authenticatorData": b64(authData),
		"signature":         b64(sig),
	}
	if withHandle {
		response["userHandle"] = b64(a.handle)
	}
	body, err := json.Marshal(map[string]any{
		"id":                     a.credentialID(),
		"rawId":                  a.credentialID(),
		"type":                   "public-key",
		"response":               response,
		"clientExtensionResults": map[string]any{},
	})
	if err != nil {
		t.Fatalf("encode assertion response: %v", err)
	}
	return body
}

package goIdP

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/MrEthical07/goIdP/internal"
	"github.com/MrEthical07/goIdP/internal/stores"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// Ceremony kinds.
const (
	CeremonyRegistration   = "registration"
	CeremonyAuthentication = "authentication"
)

const (
	ceremonyKindRegistration uint8 = iota + 1
	ceremonyKindAuthentication
)

const (
	stageStarted uint8 = iota + 1
	stageStaged
)

// CeremonyState is the server-held correlation object between the start and
// finish calls of one ceremony. Callers only ever see the signed handle that
// names it. Result is set once FinishRegistration has verified the
// attestation and is consumed by SaveRegistration.
type CeremonyState struct {
	Kind        string               `json:"kind"`
	Realm       string               `json:"realm"`
	Provider    string               `json:"provider"`
	UserID      string               `json:"userId,omitempty"`
	AccountID   string               `json:"accountId,omitempty"`
	Username    string               `json:"username,omitempty"`
	Email       string               `json:"email,omitempty"`
	UserHandle  []byte               `json:"userHandle,omitempty"`
	DisplayName string               `json:"displayName,omitempty"`
	Session     webauthn.SessionData `json:"session"`
	ExpiresAt   time.Time            `json:"expiresAt"`
	Result      *WebAuthnCredential  `json:"result,omitempty"`
}

// RegistrationStart is returned by StartRegistration. State is the opaque
// handle the caller passes back to FinishRegistration and SaveRegistration.
type RegistrationStart struct {
	State     string                       `json:"state"`
	Options   *protocol.CredentialCreation `json:"options"`
	ExpiresAt time.Time                    `json:"expiresAt"`
}

// AuthenticationStart is returned by StartAuthentication.
type AuthenticationStart struct {
	State     string                        `json:"state"`
	Options   *protocol.CredentialAssertion `json:"options"`
	ExpiresAt time.Time                     `json:"expiresAt"`
}

// ceremonyStore is satisfied by the Redis and in-memory stores.
type ceremonyStore interface {
	Save(ctx context.Context, id string, record *stores.CeremonyRecord, ttl time.Duration) error
	Advance(ctx context.Context, id string, from, to uint8, update func([]byte) ([]byte, error)) error
	Consume(ctx context.Context, id string, stage uint8) (*stores.CeremonyRecord, error)
	Delete(ctx context.Context, id string) error
}

func ceremonyKindCode(kind string) uint8 {
	if kind == CeremonyAuthentication {
		return ceremonyKindAuthentication
	}
	return ceremonyKindRegistration
}

// startCeremony stores state and signs the handle naming it.
func (p *WebAuthnProvider) startCeremony(ctx context.Context, state *CeremonyState) (string, time.Time, error) {
	id, err := internal.NewCeremonyID()
	if err != nil {
		return "", time.Time{}, errors.Join(ErrSystem, err)
	}

	handle, expires, err := p.handles.CreateHandle(id.String(), state.Kind, state.UserID)
	if err != nil {
		return "", time.Time{}, errors.Join(ErrSystem, err)
	}

	state.Realm = p.config.Realm
	state.Provider = p.config.ProviderID
	state.ExpiresAt = expires

	payload, err := json.Marshal(state)
	if err != nil {
		return "", time.Time{}, errors.Join(ErrSystem, err)
	}

	ttl := p.config.WebAuthn.ChallengeTTL
	record := &stores.CeremonyRecord{
		Kind:      ceremonyKindCode(state.Kind),
		Stage:     stageStarted,
		ExpiresAt: time.Now().Add(ttl).Unix(),
		Payload:   payload,
	}
	if err := p.ceremonies.Save(ctx, id.String(), record, ttl); err != nil {
		p.logger("ceremony_save").WithError(err).Error("ceremony store write failed")
		return "", time.Time{}, mapCeremonyStoreError(err)
	}
	return handle, expires, nil
}

// ceremonyID verifies a state handle and returns the store key it names.
func (p *WebAuthnProvider) ceremonyID(handle, kind, userID string) (string, error) {
	if handle == "" {
		return "", MissingData(FieldState)
	}
	claims, err := p.handles.ParseHandle(handle, kind)
	if err != nil {
		return "", ErrCeremonyExpired
	}
	if userID != "" && claims.Subject != userID {
		return "", IllegalArgument(FieldUserID)
	}
	id, err := internal.ParseCeremonyID(claims.ID)
	if err != nil {
		return "", InvalidData(FieldState)
	}
	return id.String(), nil
}

func (p *WebAuthnProvider) decodeState(payload []byte, kind string) (*CeremonyState, error) {
	var state CeremonyState
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, errors.Join(ErrSystem, err)
	}
	if state.Kind != kind {
		return nil, ErrCeremonyExpired
	}
	if state.Realm != p.config.Realm || state.Provider != p.config.ProviderID {
		return nil, IllegalArgument(FieldRealmMismatch)
	}
	return &state, nil
}

func mapCeremonyStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, stores.ErrCeremonyNotFound),
		errors.Is(err, stores.ErrCeremonyExpired),
		errors.Is(err, stores.ErrCeremonyStage):
		return ErrCeremonyExpired
	case errors.Is(err, stores.ErrCeremonyBackend):
		return errors.Join(ErrSystem, err)
	default:
		return err
	}
}

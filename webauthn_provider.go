package goIdP

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goIdP/internal"
	internalflows "github.com/MrEthical07/goIdP/internal/flows"
	"github.com/MrEthical07/goIdP/internal/stores"
	"github.com/MrEthical07/goIdP/jwt"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// WebAuthnProvider runs WebAuthn registration and authentication ceremonies
// for one provider. WebAuthn accounts are keyed by username and carry a
// random user handle that authenticators store as user.id.
//
// WebAuthnProvider instances are created by [Builder.BuildWebAuthn] and are
// safe for concurrent use.
type WebAuthnProvider struct {
	*Engine

	credentials WebAuthnCredentialStore
	rp          *webauthn.WebAuthn
	ceremonies  ceremonyStore
	handles     *jwt.Manager
	directory   UserDirectory
}

// registrant is the subject of a registration ceremony: an existing account
// or a directory user that will get one on save.
type registrant struct {
	account  *Account
	userID   string
	username string
	email    string
	handle   []byte
}

// StartRegistration begins a registration ceremony for userID. The user must
// own an ACTIVE account in this provider or be known to the [UserDirectory].
// displayName is stripped of markup; an empty result falls back to the
// username. The returned options exclude every credential already bound to
// the user handle.
func (p *WebAuthnProvider) StartRegistration(ctx context.Context, userID, displayName string) (RegistrationStart, error) {
	if p == nil || !p.ready() || p.credentials == nil {
		return RegistrationStart{}, ErrEngineNotReady
	}

	reg, err := p.resolveRegistrant(ctx, userID)
	if err != nil {
		p.emitAudit(ctx, auditEventRegistrationStarted, false, "", userID, err, nil)
		return RegistrationStart{}, err
	}

	displayName = sanitizeDisplayName(displayName, p.config.WebAuthn.MaxDisplayNameLength)
	if displayName == "" {
		displayName = reg.username
	}

	var existing []WebAuthnCredential
	if reg.account != nil && len(reg.account.UserHandle) > 0 {
		existing, err = p.credentials.FindByUserHandle(ctx, p.repositoryID, reg.handle)
		if err != nil && !errors.Is(err, ErrRecordNotFound) {
			return RegistrationStart{}, mapCredentialStoreError(err)
		}
	}
	user := newWebAuthnUser(reg.handle, reg.username, displayName, existing)

	opts := []webauthn.RegistrationOption{
		webauthn.WithExclusions(user.descriptors()),
		webauthn.WithAuthenticatorSelection(authenticatorSelection(p.config.WebAuthn)),
		webauthn.WithConveyancePreference(protocol.ConveyancePreference(p.config.WebAuthn.AttestationPreference)),
		webauthn.WithExtensions(protocol.AuthenticationExtensions{"credProps": true}),
	}
	creation, session, err := p.rp.BeginRegistration(user, opts...)
	if err != nil {
		err = registrationError(err)
		p.emitAudit(ctx, auditEventRegistrationStarted, false, reg.username, userID, err, nil)
		return RegistrationStart{}, err
	}

	state := &CeremonyState{
		Kind:        CeremonyRegistration,
		UserID:      reg.userID,
		AccountID:   reg.username,
		Username:    reg.username,
		Email:       reg.email,
		UserHandle:  reg.handle,
		DisplayName: displayName,
		Session:     *session,
	}
	handle, expires, err := p.startCeremony(ctx, state)
	if err != nil {
		return RegistrationStart{}, err
	}

	p.metricInc(MetricWebAuthnRegistrationStarted)
	p.emitAudit(ctx, auditEventRegistrationStarted, true, reg.username, userID, nil, nil)
	return RegistrationStart{State: handle, Options: creation, ExpiresAt: expires}, nil
}

// FinishRegistration verifies the attestation in response against the
// challenge, relying party id and origins recorded by StartRegistration and
// stages the resulting credential in the ceremony state. Nothing is persisted
// until SaveRegistration. A failed verification leaves the state untouched.
func (p *WebAuthnProvider) FinishRegistration(ctx context.Context, userID, state string, response []byte) (WebAuthnCredentialView, error) {
	if p == nil || !p.ready() || p.credentials == nil {
		return WebAuthnCredentialView{}, ErrEngineNotReady
	}
	start := time.Now()
	defer p.observe(MetricWebAuthnFinishLatency, start)

	staged, err := p.finishRegistration(ctx, userID, state, response)
	if err != nil {
		p.logProtocolError("finish_registration", err)
		p.metricInc(MetricWebAuthnRegistrationFailure)
		p.emitAudit(ctx, auditEventRegistrationFinished, false, "", userID, err, nil)
		return WebAuthnCredentialView{}, err
	}

	p.emitAudit(ctx, auditEventRegistrationFinished, true, staged.AccountID, userID, nil, func() map[string]string {
		return map[string]string{
			"credential_id":    staged.CredentialID,
			"attestation_type": staged.AttestationType,
		}
	})
	return webAuthnView(staged), nil
}

func (p *WebAuthnProvider) finishRegistration(ctx context.Context, userID, state string, response []byte) (WebAuthnCredential, error) {
	if _, err := p.resolveRegistrant(ctx, userID); err != nil {
		return WebAuthnCredential{}, err
	}
	id, err := p.ceremonyID(state, CeremonyRegistration, userID)
	if err != nil {
		return WebAuthnCredential{}, err
	}
	if len(response) == 0 {
		return WebAuthnCredential{}, MissingData(FieldResponse)
	}

	parsed, err := protocol.ParseCredentialCreationResponseBytes(response)
	if err != nil {
		return WebAuthnCredential{}, registrationError(err)
	}

	var staged WebAuthnCredential
	err = p.ceremonies.Advance(ctx, id, stageStarted, stageStaged, func(payload []byte) ([]byte, error) {
		st, err := p.decodeState(payload, CeremonyRegistration)
		if err != nil {
			return nil, err
		}
		if st.UserID != userID {
			return nil, IllegalArgument(FieldUserID)
		}

		user := newWebAuthnUser(st.UserHandle, st.Username, st.DisplayName, nil)
		cred, err := p.rp.CreateCredential(user, st.Session, parsed)
		if err != nil {
			return nil, registrationError(err)
		}
		if err := p.checkAttestationTrust(cred); err != nil {
			return nil, err
		}

		staged = p.stageCredential(st, cred, parsed)
		st.Result = &staged
		return json.Marshal(st)
	})
	if err != nil {
		if isCeremonyStoreError(err) {
			return WebAuthnCredential{}, mapCeremonyStoreError(err)
		}
		return WebAuthnCredential{}, err
	}
	return staged, nil
}

// SaveRegistration persists the credential staged by FinishRegistration and
// consumes the ceremony. The account is created on the first registration
// of a directory user. A second credential with the same user handle and
// credential id fails with [ErrAlreadyRegistered].
func (p *WebAuthnProvider) SaveRegistration(ctx context.Context, userID, state string) (WebAuthnCredentialView, error) {
	if p == nil || !p.ready() || p.credentials == nil {
		return WebAuthnCredentialView{}, ErrEngineNotReady
	}

	saved, err := p.saveRegistration(ctx, userID, state)
	if err != nil {
		p.metricInc(MetricWebAuthnRegistrationFailure)
		p.emitAudit(ctx, auditEventRegistrationSaved, false, "", userID, err, nil)
		return WebAuthnCredentialView{}, err
	}

	p.metricInc(MetricWebAuthnRegistrationSuccess)
	p.emitAudit(ctx, auditEventRegistrationSaved, true, saved.AccountID, saved.UserID, nil, func() map[string]string {
		return map[string]string{
			"credential_id": saved.CredentialID,
		}
	})
	return webAuthnView(saved), nil
}

func (p *WebAuthnProvider) saveRegistration(ctx context.Context, userID, state string) (WebAuthnCredential, error) {
	if userID == "" {
		return WebAuthnCredential{}, MissingData(FieldUserID)
	}
	id, err := p.ceremonyID(state, CeremonyRegistration, userID)
	if err != nil {
		return WebAuthnCredential{}, err
	}

	record, err := p.ceremonies.Consume(ctx, id, stageStaged)
	if err != nil {
		if errors.Is(err, stores.ErrCeremonyStage) {
			return WebAuthnCredential{}, fmt.Errorf("%w: registration not finished", ErrIllegalState)
		}
		return WebAuthnCredential{}, mapCeremonyStoreError(err)
	}
	st, err := p.decodeState(record.Payload, CeremonyRegistration)
	if err != nil {
		return WebAuthnCredential{}, err
	}
	if st.UserID != userID {
		return WebAuthnCredential{}, IllegalArgument(FieldUserID)
	}
	if st.Result == nil {
		return WebAuthnCredential{}, fmt.Errorf("%w: registration not finished", ErrIllegalState)
	}

	cred := *st.Result
	switch {
	case len(st.UserHandle) == 0 || len(cred.UserHandle) == 0:
		return WebAuthnCredential{}, MissingData(FieldUserHandle)
	case cred.CredentialID == "":
		return WebAuthnCredential{}, MissingData(FieldCredentialID)
	case len(cred.PublicKeyCOSE) == 0:
		return WebAuthnCredential{}, MissingData(FieldPublicKey)
	case cred.SignatureCount < 0:
		return WebAuthnCredential{}, InvalidData(FieldSignatureCount)
	}

	account, err := p.ensureAccount(ctx, st)
	if err != nil {
		return WebAuthnCredential{}, err
	}

	_, err = p.credentials.FindByUserHandleAndCredentialID(ctx, p.repositoryID, cred.UserHandle, cred.CredentialID)
	switch {
	case err == nil:
		return WebAuthnCredential{}, ErrAlreadyRegistered
	case !errors.Is(err, ErrRecordNotFound):
		return WebAuthnCredential{}, mapCredentialStoreError(err)
	}

	now := p.clock()
	cred.ID = uuid.NewString()
	cred.RepositoryID = p.repositoryID
	cred.AccountID = account.AccountID
	cred.UserID = account.UserID
	cred.Status = CredentialActive
	cred.CreatedAt = now
	cred.UpdatedAt = now

	stored, err := p.credentials.Add(ctx, cred)
	if err != nil {
		return WebAuthnCredential{}, mapCredentialStoreError(err)
	}
	p.index(ctx, Resource{
		UUID:       stored.ID,
		ResourceID: stored.CredentialID,
		UserID:     stored.UserID,
	})
	return stored, nil
}

// StartAuthentication begins an assertion ceremony. With a username the
// allow list is scoped to that account's ACTIVE credentials; with an empty
// username the ceremony is discoverable and the authenticator picks the
// credential.
func (p *WebAuthnProvider) StartAuthentication(ctx context.Context, username string) (AuthenticationStart, error) {
	if p == nil || !p.ready() || p.credentials == nil {
		return AuthenticationStart{}, ErrEngineNotReady
	}

	state := &CeremonyState{Kind: CeremonyAuthentication}
	uv := webauthn.WithUserVerification(protocol.UserVerificationRequirement(p.config.WebAuthn.UserVerification))

	var (
		assertion *protocol.CredentialAssertion
		session   *webauthn.SessionData
		err       error
	)
	if username == "" {
		assertion, session, err = p.rp.BeginDiscoverableLogin(uv)
	} else {
		var user *webAuthnUser
		user, err = p.loginUser(ctx, username, state)
		if err != nil {
			p.emitAudit(ctx, auditEventAuthenticationStarted, false, username, "", err, nil)
			return AuthenticationStart{}, err
		}
		assertion, session, err = p.rp.BeginLogin(user, uv)
	}
	if err != nil {
		err = authenticationError(err)
		p.emitAudit(ctx, auditEventAuthenticationStarted, false, username, state.UserID, err, nil)
		return AuthenticationStart{}, err
	}
	state.Session = *session

	handle, expires, err := p.startCeremony(ctx, state)
	if err != nil {
		return AuthenticationStart{}, err
	}

	p.metricInc(MetricWebAuthnAuthenticationStarted)
	p.emitAudit(ctx, auditEventAuthenticationStarted, true, state.AccountID, state.UserID, nil, func() map[string]string {
		return map[string]string{
			"discoverable": fmt.Sprint(username == ""),
		}
	})
	return AuthenticationStart{State: handle, Options: assertion, ExpiresAt: expires}, nil
}

// FinishAuthentication verifies an assertion and consumes the ceremony. The
// credential is resolved by user handle and credential id. A signature
// counter that does not advance fails with [ErrSignatureCounter]; on success
// the new counter and last-use time are written in one conditional update.
func (p *WebAuthnProvider) FinishAuthentication(ctx context.Context, state string, response []byte) (AuthenticationResult, error) {
	if p == nil || !p.ready() || p.credentials == nil {
		return AuthenticationResult{}, ErrEngineNotReady
	}
	start := time.Now()
	defer p.observe(MetricWebAuthnFinishLatency, start)

	res, err := p.finishAuthentication(ctx, state, response)
	if err != nil {
		p.logProtocolError("finish_authentication", err)
		if errors.Is(err, ErrSignatureCounter) {
			p.metricInc(MetricWebAuthnCounterReplay)
			p.emitAudit(ctx, auditEventCounterReplay, false, res.Account.AccountID, res.UserID, err, func() map[string]string {
				return map[string]string{
					"credential_id": res.Credential.CredentialID,
				}
			})
		}
		p.metricInc(MetricWebAuthnAuthenticationFailure)
		p.emitAudit(ctx, auditEventAuthenticationFinished, false, res.Account.AccountID, res.UserID, err, nil)
		return AuthenticationResult{}, err
	}

	p.metricInc(MetricWebAuthnAuthenticationSuccess)
	p.emitAudit(ctx, auditEventAuthenticationFinished, true, res.Account.AccountID, res.UserID, nil, func() map[string]string {
		return map[string]string{
			"credential_id":   res.Credential.CredentialID,
			"signature_count": fmt.Sprint(res.Credential.SignatureCount),
		}
	})
	return res, nil
}

// finishAuthentication returns a partially filled result alongside counter
// errors so the caller can attribute the replay.
func (p *WebAuthnProvider) finishAuthentication(ctx context.Context, state string, response []byte) (AuthenticationResult, error) {
	id, err := p.ceremonyID(state, CeremonyAuthentication, "")
	if err != nil {
		return AuthenticationResult{}, err
	}
	if len(response) == 0 {
		return AuthenticationResult{}, MissingData(FieldResponse)
	}

	record, err := p.ceremonies.Consume(ctx, id, stageStarted)
	if err != nil {
		return AuthenticationResult{}, mapCeremonyStoreError(err)
	}
	st, err := p.decodeState(record.Payload, CeremonyAuthentication)
	if err != nil {
		return AuthenticationResult{}, err
	}

	parsed, err := protocol.ParseCredentialRequestResponseBytes(response)
	if err != nil {
		return AuthenticationResult{}, authenticationError(err)
	}

	handle := st.UserHandle
	if len(handle) == 0 {
		handle = parsed.Response.UserHandle
	} else if len(parsed.Response.UserHandle) > 0 && !bytes.Equal(handle, parsed.Response.UserHandle) {
		return AuthenticationResult{}, fmt.Errorf("%w: user handle mismatch", ErrAuthentication)
	}
	if len(handle) == 0 {
		return AuthenticationResult{}, fmt.Errorf("%w: %w", ErrAuthentication, MissingData(FieldUserHandle))
	}

	credentialID := base64.RawURLEncoding.EncodeToString(parsed.RawID)
	cred, err := p.credentials.FindByUserHandleAndCredentialID(ctx, p.repositoryID, handle, credentialID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return AuthenticationResult{}, fmt.Errorf("%w: %w", ErrAuthentication, ErrNoSuchCredential)
		}
		return AuthenticationResult{}, mapCredentialStoreError(err)
	}
	if cred.Status != CredentialActive {
		return AuthenticationResult{}, fmt.Errorf("%w: credential is %s", ErrAuthentication, cred.Status)
	}

	account, err := p.accounts.FindByUserHandle(ctx, p.repositoryID, handle)
	if err != nil {
		return AuthenticationResult{}, mapAccountStoreError(err)
	}
	res := AuthenticationResult{
		Account:    account,
		UserID:     account.UserID,
		Credential: webAuthnView(cred),
	}
	if account.Status != AccountActive {
		return res, fmt.Errorf("%w: account is %s", ErrIllegalState, account.Status)
	}

	owned, err := p.credentials.FindByUserHandle(ctx, p.repositoryID, handle)
	if err != nil {
		return res, mapCredentialStoreError(err)
	}
	user := newWebAuthnUser(handle, account.Username, account.Username, owned)
	if len(st.UserHandle) > 0 {
		_, err = p.rp.ValidateLogin(user, st.Session, parsed)
	} else {
		_, _, err = p.rp.ValidatePasskeyLogin(func(rawID, userHandle []byte) (webauthn.User, error) {
			return user, nil
		}, st.Session, parsed)
	}
	if err != nil {
		return res, authenticationError(err)
	}

	presented := int64(parsed.Response.AuthenticatorData.Counter)
	count, err := p.recordAssertion(ctx, cred, presented)
	if err != nil {
		return res, err
	}

	usedAt := p.clock()
	cred.SignatureCount = count
	cred.LastUsedAt = &usedAt
	cred.BackupState = parsed.Response.AuthenticatorData.Flags.HasBackupState()
	res.Credential = webAuthnView(cred)
	return res, nil
}

// recordAssertion advances the stored counter of cred to presented.
func (p *WebAuthnProvider) recordAssertion(ctx context.Context, cred WebAuthnCredential, presented int64) (int64, error) {
	deps := internalflows.AssertionDeps{
		MaxRetries: p.config.Account.MaxUpdateRetries,
		Now:        p.clock,
		LoadCount: func(ctx context.Context) (int64, error) {
			current, err := p.credentials.FindByID(ctx, p.repositoryID, cred.ID)
			if err != nil {
				return 0, err
			}
			return current.SignatureCount, nil
		},
		UpdateCount: func(ctx context.Context, expected, next int64, usedAt time.Time) error {
			return p.credentials.UpdateSignatureCount(ctx, p.repositoryID, cred.ID, expected, next, usedAt)
		},
		IsNotFound: func(err error) bool { return errors.Is(err, ErrRecordNotFound) },
		IsConflict: func(err error) bool { return errors.Is(err, ErrCounterConflict) },
		Errors: internalflows.AssertionErrors{
			EngineNotReady:   ErrEngineNotReady,
			NoSuchCredential: ErrNoSuchCredential,
			CounterReplay:    ErrSignatureCounter,
			InvalidCount:     InvalidData(FieldSignatureCount),
			Conflict:         fmt.Errorf("%w: %w", ErrAuthentication, ErrCounterConflict),
		},
	}

	count, err := internalflows.RunRecordAssertion(ctx, presented, deps)
	if err != nil && errors.Is(err, ErrStoreUnavailable) {
		p.logger("record_assertion").WithError(err).Error("signature counter update failed")
		return 0, errors.Join(ErrSystem, err)
	}
	return count, err
}

// resolveRegistrant finds the subject of a registration. Existing accounts
// must be ACTIVE; otherwise the directory must know the user.
func (p *WebAuthnProvider) resolveRegistrant(ctx context.Context, userID string) (registrant, error) {
	if userID == "" {
		return registrant{}, MissingData(FieldUserID)
	}

	accounts, err := p.accounts.FindByUser(ctx, p.repositoryID, userID)
	if err != nil && !errors.Is(err, ErrRecordNotFound) {
		return registrant{}, mapAccountStoreError(err)
	}
	if len(accounts) > 0 {
		account := accounts[0]
		if account.Status != AccountActive {
			return registrant{}, fmt.Errorf("%w: account is %s", ErrIllegalState, account.Status)
		}
		handle := account.UserHandle
		if len(handle) == 0 {
			if handle, err = internal.NewUserHandle(); err != nil {
				return registrant{}, errors.Join(ErrSystem, err)
			}
		}
		return registrant{
			account:  &account,
			userID:   userID,
			username: account.AccountID,
			email:    account.Email,
			handle:   handle,
		}, nil
	}

	if p.directory == nil {
		return registrant{}, ErrNoSuchUser
	}
	info, err := p.directory.FindUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrRecordNotFound) {
			return registrant{}, ErrNoSuchUser
		}
		return registrant{}, errors.Join(ErrSystem, err)
	}
	handle, err := internal.NewUserHandle()
	if err != nil {
		return registrant{}, errors.Join(ErrSystem, err)
	}
	username := info.Username
	if username == "" {
		username = userID
	}
	return registrant{
		userID:   userID,
		username: username,
		email:    info.Email,
		handle:   handle,
	}, nil
}

// ensureAccount returns the account a staged credential binds to, creating
// it or assigning its user handle on the first registration.
func (p *WebAuthnProvider) ensureAccount(ctx context.Context, st *CeremonyState) (Account, error) {
	account, err := p.accounts.FindByID(ctx, p.repositoryID, st.AccountID)
	if errors.Is(err, ErrRecordNotFound) {
		fresh := p.newAccount(st.AccountID, st.UserID, st.Username)
		fresh.Email = st.Email
		fresh.UserHandle = st.UserHandle
		account, err = p.addAccount(ctx, fresh)
		if err == nil {
			return account, nil
		}
		if !errors.Is(err, ErrDuplicateRecord) {
			return Account{}, mapAccountStoreError(err)
		}
		account, err = p.accounts.FindByID(ctx, p.repositoryID, st.AccountID)
	}
	if err != nil {
		return Account{}, mapAccountStoreError(err)
	}

	if account.UserID != st.UserID {
		return Account{}, IllegalArgument(FieldUserID)
	}
	if account.Status != AccountActive {
		return Account{}, fmt.Errorf("%w: account is %s", ErrIllegalState, account.Status)
	}
	if len(account.UserHandle) > 0 {
		if !bytes.Equal(account.UserHandle, st.UserHandle) {
			return Account{}, fmt.Errorf("%w: user handle changed, restart the ceremony", ErrRegistration)
		}
		return account, nil
	}

	return internalflows.RunAccountTx(ctx, p.accountTxDeps(account.AccountID), func(a Account) (Account, bool, error) {
		if len(a.UserHandle) > 0 {
			if !bytes.Equal(a.UserHandle, st.UserHandle) {
				return a, false, fmt.Errorf("%w: user handle changed, restart the ceremony", ErrRegistration)
			}
			return a, false, nil
		}
		a.UserHandle = cloneBytes(st.UserHandle)
		a.UpdatedAt = p.clock()
		return a, true, nil
	})
}

func (p *WebAuthnProvider) loginUser(ctx context.Context, username string, state *CeremonyState) (*webAuthnUser, error) {
	account, err := p.accounts.FindByID(ctx, p.repositoryID, username)
	if err != nil {
		return nil, mapAccountStoreError(err)
	}
	if account.Status != AccountActive {
		return nil, fmt.Errorf("%w: account is %s", ErrIllegalState, account.Status)
	}
	if len(account.UserHandle) == 0 {
		return nil, ErrNoSuchCredential
	}

	creds, err := p.credentials.FindByUserHandle(ctx, p.repositoryID, account.UserHandle)
	if err != nil && !errors.Is(err, ErrRecordNotFound) {
		return nil, mapCredentialStoreError(err)
	}
	user := newWebAuthnUser(account.UserHandle, account.Username, account.Username, creds)
	if len(user.credentials) == 0 {
		return nil, ErrNoSuchCredential
	}

	state.UserID = account.UserID
	state.AccountID = account.AccountID
	state.Username = account.Username
	state.UserHandle = account.UserHandle
	return user, nil
}

func (p *WebAuthnProvider) stageCredential(st *CeremonyState, cred *webauthn.Credential, parsed *protocol.ParsedCredentialCreationData) WebAuthnCredential {
	transports := make([]string, 0, len(cred.Transport))
	for _, t := range cred.Transport {
		transports = append(transports, string(t))
	}

	return WebAuthnCredential{
		RepositoryID:      p.repositoryID,
		AccountID:         st.AccountID,
		UserID:            st.UserID,
		UserHandle:        cloneBytes(st.UserHandle),
		CredentialID:      base64.RawURLEncoding.EncodeToString(cred.ID),
		PublicKeyCOSE:     cloneBytes(cred.PublicKey),
		SignatureCount:    int64(cred.Authenticator.SignCount),
		AAGUID:            cloneBytes(cred.Authenticator.AAGUID),
		AttestationType:   cred.AttestationType,
		Transports:        transports,
		Discoverable:      discoverableFromExtensions(parsed.ClientExtensionResults),
		UserVerified:      cred.Flags.UserVerified,
		BackupEligible:    cred.Flags.BackupEligible,
		BackupState:       cred.Flags.BackupState,
		DisplayName:       st.DisplayName,
		AttestationObject: cloneBytes(parsed.Raw.AttestationResponse.AttestationObject),
		ClientData:        cloneBytes(parsed.Raw.AttestationResponse.ClientDataJSON),
		Status:            CredentialActive,
	}
}

// checkAttestationTrust rejects self and unattested credentials when the
// provider asks for direct or enterprise attestation and untrusted
// attestation is not allowed.
func (p *WebAuthnProvider) checkAttestationTrust(cred *webauthn.Credential) error {
	cfg := p.config.WebAuthn
	if cfg.AllowUntrustedAttestation {
		return nil
	}
	switch protocol.ConveyancePreference(cfg.AttestationPreference) {
	case protocol.PreferDirectAttestation, protocol.PreferEnterpriseAttestation:
	default:
		return nil
	}
	switch cred.AttestationType {
	case "", "none", "self":
		return fmt.Errorf("%w: untrusted attestation %q", ErrRegistration, cred.AttestationType)
	}
	return nil
}

func authenticatorSelection(cfg WebAuthnConfig) protocol.AuthenticatorSelection {
	sel := protocol.AuthenticatorSelection{
		AuthenticatorAttachment: protocol.AuthenticatorAttachment(cfg.AuthenticatorAttachment),
		ResidentKey:             protocol.ResidentKeyRequirement(cfg.ResidentKey),
		UserVerification:        protocol.UserVerificationRequirement(cfg.UserVerification),
	}
	if sel.ResidentKey == protocol.ResidentKeyRequirementRequired {
		required := true
		sel.RequireResidentKey = &required
	}
	return sel
}

func (p *WebAuthnProvider) logProtocolError(op string, err error) {
	var perr *protocol.Error
	if !errors.As(err, &perr) {
		return
	}
	p.logger(op).WithFields(logrus.Fields{
		"type":    perr.Type,
		"details": perr.Details,
		"debug":   perr.DevInfo,
	}).Debug("webauthn protocol error")
}

// registrationError wraps a protocol failure under [ErrRegistration]. Errors
// that already carry a kind from this package pass through.
func registrationError(err error) error {
	if isKindError(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrRegistration, err)
}

func authenticationError(err error) error {
	if isKindError(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrAuthentication, err)
}

func isKindError(err error) bool {
	var fe *FieldError
	return errors.As(err, &fe) ||
		errors.Is(err, ErrRegistration) ||
		errors.Is(err, ErrAuthentication) ||
		errors.Is(err, ErrSystem) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrIllegalState)
}

func isCeremonyStoreError(err error) bool {
	return errors.Is(err, stores.ErrCeremonyNotFound) ||
		errors.Is(err, stores.ErrCeremonyExpired) ||
		errors.Is(err, stores.ErrCeremonyStage) ||
		errors.Is(err, stores.ErrCeremonyBackend)
}

package goIdP

import (
	"errors"
	"fmt"
	"time"

	internalaudit "github.com/MrEthical07/goIdP/internal/audit"
	"github.com/MrEthical07/goIdP/internal/limiters"
	"github.com/MrEthical07/goIdP/internal/stores"
	"github.com/MrEthical07/goIdP/jwt"
	"github.com/MrEthical07/goIdP/logging"
	"github.com/MrEthical07/goIdP/password"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Builder defines a public type used by goIdP APIs.
//
// Builder instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
// One Builder produces one provider; call BuildPassword or BuildWebAuthn exactly once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	accounts  AccountStore
	passwords PasswordCredentialStore
	webauthn  WebAuthnCredentialStore

	notifier  NotificationService
	realms    RealmResolver
	directory UserDirectory
	resources ResourceIndex
	auditSink AuditSink

	log logrus.FieldLogger
	now func() time.Time

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the provider configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client used for ceremony state and reset throttling.
// Without it ceremonies are kept in process memory and reset requests are
// not throttled.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithAccountStore sets the account persistence. Required.
func (b *Builder) WithAccountStore(store AccountStore) *Builder {
	b.accounts = store
	return b
}

// WithPasswordStore sets the password credential persistence. Required by
// BuildPassword.
func (b *Builder) WithPasswordStore(store PasswordCredentialStore) *Builder {
	b.passwords = store
	return b
}

// WithWebAuthnStore sets the WebAuthn credential persistence. Required by
// BuildWebAuthn.
func (b *Builder) WithWebAuthnStore(store WebAuthnCredentialStore) *Builder {
	b.webauthn = store
	return b
}

// WithNotificationService sets the sender for password reset messages.
func (b *Builder) WithNotificationService(n NotificationService) *Builder {
	b.notifier = n
	return b
}

// WithRealmResolver sets the lookup used to render realm names into
// notifications.
func (b *Builder) WithRealmResolver(r RealmResolver) *Builder {
	b.realms = r
	return b
}

// WithUserDirectory sets the user lookup used when a user registers a
// WebAuthn credential before any account exists.
func (b *Builder) WithUserDirectory(d UserDirectory) *Builder {
	b.directory = d
	return b
}

// WithResourceIndex sets the search index credentials are published to.
func (b *Builder) WithResourceIndex(idx ResourceIndex) *Builder {
	b.resources = idx
	return b
}

// WithAuditSink describes the withauditsink operation and its observable behavior.
//
// WithAuditSink does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger overrides the logger built from Config.Logging.
func (b *Builder) WithLogger(log logrus.FieldLogger) *Builder {
	b.log = log
	return b
}

// WithClock sets the time source. Tests use it to move past deadlines.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithMetricsEnabled describes the withmetricsenabled operation and its observable behavior.
//
// WithMetricsEnabled does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms describes the withlatencyhistograms operation and its observable behavior.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// BuildPassword validates the configuration and returns a password provider.
func (b *Builder) BuildPassword() (*PasswordProvider, error) {
	if b.passwords == nil {
		return nil, errors.New("password credential store required")
	}

	engine, err := b.buildEngine(AuthorityPassword)
	if err != nil {
		return nil, err
	}
	cfg := engine.config

	hasher, err := password.New(password.Config{
		Algorithm:   string(cfg.Password.Algorithm),
		Iterations:  uint32(cfg.Password.Iterations),
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		engine.Close()
		return nil, err
	}
	dummy, err := newDummyHash(hasher)
	if err != nil {
		engine.Close()
		return nil, err
	}

	p := &PasswordProvider{
		Engine:      engine,
		credentials: b.passwords,
		hasher:      hasher,
		dummyHash:   dummy,
		notifier:    b.notifier,
		realms:      b.realms,
	}

	reset := cfg.PasswordReset
	if b.redis != nil && reset.Enabled && (reset.EnableIdentifierThrottle || reset.EnableIPThrottle) {
		p.resetLimiter = limiters.NewPasswordResetLimiter(b.redis, limiters.PasswordResetConfig{
			Realm:                    cfg.Realm,
			Provider:                 cfg.ProviderID,
			EnableIdentifierThrottle: reset.EnableIdentifierThrottle,
			EnableIPThrottle:         reset.EnableIPThrottle,
			Window:                   reset.ThrottleWindow,
			MaxRequests:              reset.MaxRequests,
		})
	}

	engine.deleteCredentials = p.deletePasswordCredentials
	engine.relinkCredentials = p.relinkPasswordCredentials
	b.built = true
	return p, nil
}

// BuildWebAuthn validates the configuration, including the relying party,
// and returns a WebAuthn provider.
func (b *Builder) BuildWebAuthn() (*WebAuthnProvider, error) {
	if b.webauthn == nil {
		return nil, errors.New("webauthn credential store required")
	}
	if err := b.config.validateWebAuthn(); err != nil {
		return nil, err
	}

	engine, err := b.buildEngine(AuthorityWebAuthn)
	if err != nil {
		return nil, err
	}
	cfg := engine.config

	timeout := webauthn.TimeoutConfig{Timeout: cfg.WebAuthn.ChallengeTTL, TimeoutUVD: cfg.WebAuthn.ChallengeTTL}
	rp, err := webauthn.New(&webauthn.Config{
		RPID:                   cfg.WebAuthn.RPID,
		RPDisplayName:          cfg.WebAuthn.RPDisplayName,
		RPOrigins:              append([]string(nil), cfg.WebAuthn.RPOrigins...),
		AttestationPreference:  protocol.ConveyancePreference(cfg.WebAuthn.AttestationPreference),
		AuthenticatorSelection: authenticatorSelection(cfg.WebAuthn),
		Timeouts: webauthn.TimeoutsConfig{
			Login:        timeout,
			Registration: timeout,
		},
	})
	if err != nil {
		engine.Close()
		return nil, fmt.Errorf("webauthn relying party: %w", err)
	}

	handles, err := jwt.NewManager(jwt.Config{
		TTL:           cfg.WebAuthn.ChallengeTTL,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    []byte(cfg.Ceremony.SigningKey),
		Issuer:        cfg.Realm,
		Audience:      cfg.ProviderID,
		Now:           engine.clock,
	})
	if err != nil {
		engine.Close()
		return nil, err
	}

	var ceremonies ceremonyStore
	if b.redis != nil {
		ceremonies = stores.NewRedisCeremonyStore(b.redis, cfg.Ceremony.RedisPrefix+":"+cfg.Realm+":"+cfg.ProviderID)
	} else {
		ceremonies = stores.NewMemoryCeremonyStore()
	}

	p := &WebAuthnProvider{
		Engine:      engine,
		credentials: b.webauthn,
		rp:          rp,
		ceremonies:  ceremonies,
		handles:     handles,
		directory:   b.directory,
	}
	engine.deleteCredentials = p.deleteWebAuthnCredentials
	engine.relinkCredentials = p.relinkWebAuthnCredentials
	b.built = true
	return p, nil
}

func (b *Builder) buildEngine(authority string) (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.accounts == nil {
		return nil, errors.New("account store required")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	engine := &Engine{
		config:       cfg,
		authority:    authority,
		repositoryID: cfg.repositoryID(),
		accounts:     b.accounts,
		resources:    b.resources,
		metrics:      NewMetrics(cfg.Metrics),
		now:          b.now,
	}

	engine.log = b.log
	if engine.log == nil {
		log, closeLog, err := logging.New(cfg.Logging)
		if err != nil {
			return nil, err
		}
		engine.log = log
		engine.closers = append(engine.closers, func() { _ = closeLog() })
	}

	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink, engine.log.WithField("component", "audit"))

	return engine, nil
}

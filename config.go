package goIdP

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/goIdP/internal"
	"github.com/MrEthical07/goIdP/logging"
	"github.com/go-playground/validator/v10"
)

// Config defines a public type used by goIdP APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
// One Config describes exactly one provider: a mechanism instance bound to a single realm and repository partition.
type Config struct {
	Realm        string `yaml:"realm" validate:"required,max=128"`
	ProviderID   string `yaml:"provider" validate:"required,max=128"`
	RepositoryID string `yaml:"repository" validate:"max=128"`

	Account       AccountConfig       `yaml:"account"`
	Password      PasswordConfig      `yaml:"password"`
	PasswordReset PasswordResetConfig `yaml:"passwordReset"`
	WebAuthn      WebAuthnConfig      `yaml:"webauthn"`
	Ceremony      CeremonyConfig      `yaml:"ceremony"`
	Audit         AuditConfig         `yaml:"audit"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Logging       logging.Config      `yaml:"logging"`
}

/*
====================================
ACCOUNT CONFIG
====================================
*/

// AccountConfig controls the account lifecycle.
type AccountConfig struct {
	// MaxUpdateRetries bounds the optimistic-concurrency retry loop.
	MaxUpdateRetries int `yaml:"maxUpdateRetries" validate:"gte=1,lte=16"`
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordAlgorithm names a supported password hash.
type PasswordAlgorithm string

const (
	// PasswordPBKDF2 selects PBKDF2-HMAC-SHA256.
	PasswordPBKDF2 PasswordAlgorithm = "pbkdf2"
	// PasswordArgon2 selects Argon2id.
	PasswordArgon2 PasswordAlgorithm = "argon2"
)

// PasswordConfig defines a public type used by goIdP APIs.
//
// PasswordConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type PasswordConfig struct {
	Algorithm  PasswordAlgorithm `yaml:"algorithm" validate:"oneof=pbkdf2 argon2"`
	Iterations int               `yaml:"iterations"`
	SaltLength uint32            `yaml:"saltLength"`
	KeyLength  uint32            `yaml:"keyLength"`

	// Argon2id parameters, used only when Algorithm is argon2.
	Memory      uint32 `yaml:"memory"` // in KB
	Time        uint32 `yaml:"time"`
	Parallelism uint8  `yaml:"parallelism"`

	MinLength       int           `yaml:"minLength" validate:"gte=1"`
	MaxLength       int           `yaml:"maxLength" validate:"gtefield=MinLength,lte=1024"`
	TemporaryLength int           `yaml:"temporaryLength" validate:"gte=16"`
	MaxAge          time.Duration `yaml:"maxAge"` // 0 = credentials never expire
	UpgradeOnVerify bool          `yaml:"upgradeOnVerify"`
}

/*
====================================
PASSWORD RESET CONFIG
====================================
*/

// PasswordResetConfig defines a public type used by goIdP APIs.
//
// PasswordResetConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type PasswordResetConfig struct {
	Enabled     bool          `yaml:"enabled"`
	ResetTTL    time.Duration `yaml:"resetTTL"`
	KeyLength   int           `yaml:"keyLength"`
	LinkBaseURL string        `yaml:"linkBaseURL" validate:"omitempty,url"`
	LinkParam   string        `yaml:"linkParam"`
	Template    string        `yaml:"template"`

	EnableIdentifierThrottle bool          `yaml:"enableIdentifierThrottle"`
	EnableIPThrottle         bool          `yaml:"enableIPThrottle"`
	MaxRequests              int           `yaml:"maxRequests"`
	ThrottleWindow           time.Duration `yaml:"throttleWindow"`
}

/*
====================================
WEBAUTHN CONFIG
====================================
*/

// WebAuthnConfig describes the relying party and ceremony preferences.
//
// AttestationPreference is one of none, indirect, direct, enterprise.
// ResidentKey and UserVerification are one of discouraged, preferred, required.
type WebAuthnConfig struct {
	RPID                    string        `yaml:"rpID"`
	RPDisplayName           string        `yaml:"rpDisplayName"`
	RPOrigins               []string      `yaml:"rpOrigins" validate:"dive,url"`
	ChallengeTTL            time.Duration `yaml:"challengeTTL"`
	AttestationPreference   string        `yaml:"attestation" validate:"omitempty,oneof=none indirect direct enterprise"`
	ResidentKey             string        `yaml:"residentKey" validate:"omitempty,oneof=discouraged preferred required"`
	UserVerification        string        `yaml:"userVerification" validate:"omitempty,oneof=discouraged preferred required"`
	AuthenticatorAttachment string        `yaml:"authenticatorAttachment" validate:"omitempty,oneof=platform cross-platform"`
	MaxDisplayNameLength    int           `yaml:"maxDisplayNameLength"`

	// AllowUntrustedAttestation accepts self and none attestation even when
	// direct or enterprise attestation is requested.
	AllowUntrustedAttestation bool `yaml:"allowUntrustedAttestation"`
}

/*
====================================
CEREMONY CONFIG
====================================
*/

// CeremonyConfig defines a public type used by goIdP APIs.
//
// CeremonyConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
// SigningKey signs the opaque ceremony handles returned to callers; it must be at least 32 bytes.
type CeremonyConfig struct {
	RedisPrefix string `yaml:"redisPrefix"`
	SigningKey  string `yaml:"signingKey"`
}

/*
====================================
OBSERVABILITY CONFIG
====================================
*/

// AuditConfig defines a public type used by goIdP APIs.
//
// AuditConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"bufferSize"`
	DropIfFull bool `yaml:"dropIfFull"`
}

// MetricsConfig defines a public type used by goIdP APIs.
//
// MetricsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled"`
	EnableLatencyHistograms bool `yaml:"enableLatencyHistograms"`
}

/*
====================================
DEFAULT CONFIG
====================================
*/

func defaultConfig() Config {
	return Config{
		Account: AccountConfig{
			MaxUpdateRetries: 4,
		},
		Password: PasswordConfig{
			Algorithm:       PasswordPBKDF2,
			Iterations:      310000,
			SaltLength:      16,
			KeyLength:       32,
			Memory:          65536,
			Time:            3,
			Parallelism:     2,
			MinLength:       8,
			MaxLength:       256,
			TemporaryLength: 32,
			UpgradeOnVerify: true,
		},
		PasswordReset: PasswordResetConfig{
			Enabled:                  true,
			ResetTTL:                 900 * time.Second,
			KeyLength:                24,
			LinkParam:                "code",
			Template:                 "reset",
			EnableIdentifierThrottle: true,
			EnableIPThrottle:         true,
			MaxRequests:              5,
			ThrottleWindow:           15 * time.Minute,
		},
		WebAuthn: WebAuthnConfig{
			ChallengeTTL:          2 * time.Minute,
			AttestationPreference: "none",
			ResidentKey:           "preferred",
			UserVerification:      "preferred",
			MaxDisplayNameLength:  64,
		},
		Ceremony: CeremonyConfig{
			RedisPrefix: "wac",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		Logging: logging.DefaultConfig(),
	}
}

// DefaultConfig returns the built-in defaults every provider starts from.
func DefaultConfig() Config {
	return defaultConfig()
}

// ConfigOverride mutates a copy of a base configuration.
type ConfigOverride func(*Config)

// ResolveConfig applies overrides, in order, to a copy of defaults and
// validates the result. Providers resolve their configuration once, at
// construction.
func ResolveConfig(defaults Config, overrides ...ConfigOverride) (Config, error) {
	cfg := cloneConfig(defaults)
	for _, o := range overrides {
		if o != nil {
			o(&cfg)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.WebAuthn.RPOrigins = append([]string(nil), cfg.WebAuthn.RPOrigins...)
	return out
}

/*
====================================
VALIDATION
====================================
*/

var configValidator = validator.New()

// Validate describes the validate operation and its observable behavior.
//
// Validate may return an error when input validation, dependency calls, or security checks fail.
// Validate does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c *Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("config %s failed %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return err
	}

	if strings.ContainsAny(c.Realm, ": ") || strings.ContainsAny(c.ProviderID, ": ") {
		return errors.New("Realm and ProviderID must not contain ':' or spaces")
	}

	// Password
	switch c.Password.Algorithm {
	case PasswordPBKDF2:
		if c.Password.Iterations < 10000 {
			return errors.New("Password Iterations must be >= 10000")
		}
	case PasswordArgon2:
		if c.Password.Memory < 8*1024 {
			return errors.New("Password Memory must be >= 8192 KB")
		}
		if c.Password.Time < 1 {
			return errors.New("Password Time must be >= 1")
		}
		if c.Password.Parallelism < 1 {
			return errors.New("Password Parallelism must be >= 1")
		}
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MaxAge < 0 {
		return errors.New("Password MaxAge must be >= 0")
	}

	// Password Reset
	if c.PasswordReset.Enabled {
		if c.PasswordReset.ResetTTL <= 0 {
			return errors.New("PasswordReset ResetTTL must be > 0")
		}
		if c.PasswordReset.KeyLength < internal.MinResetKeyLength {
			return fmt.Errorf("PasswordReset KeyLength must be >= %d", internal.MinResetKeyLength)
		}
		if c.PasswordReset.LinkBaseURL != "" && c.PasswordReset.LinkParam == "" {
			return errors.New("PasswordReset LinkParam required when LinkBaseURL is set")
		}
		if c.PasswordReset.EnableIdentifierThrottle || c.PasswordReset.EnableIPThrottle {
			if c.PasswordReset.MaxRequests <= 0 {
				return errors.New("PasswordReset MaxRequests must be > 0 when throttling")
			}
			if c.PasswordReset.ThrottleWindow <= 0 {
				return errors.New("PasswordReset ThrottleWindow must be > 0 when throttling")
			}
		}
	}

	// Ceremony
	if c.WebAuthn.ChallengeTTL <= 0 {
		return errors.New("WebAuthn ChallengeTTL must be > 0")
	}
	if c.WebAuthn.ChallengeTTL > 10*time.Minute {
		return errors.New("WebAuthn ChallengeTTL must be <= 10m")
	}
	if c.Ceremony.RedisPrefix == "" {
		return errors.New("Ceremony RedisPrefix must not be empty")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	return nil
}

// validateWebAuthn runs the relying-party checks that only apply to
// providers built with [Builder.BuildWebAuthn].
func (c *Config) validateWebAuthn() error {
	if c.WebAuthn.RPID == "" {
		return errors.New("WebAuthn RPID is required")
	}
	if c.WebAuthn.RPDisplayName == "" {
		return errors.New("WebAuthn RPDisplayName is required")
	}
	if len(c.WebAuthn.RPOrigins) == 0 {
		return errors.New("WebAuthn RPOrigins must not be empty")
	}
	for _, origin := range c.WebAuthn.RPOrigins {
		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("WebAuthn origin %q is not an absolute URL", origin)
		}
	}
	if len(c.Ceremony.SigningKey) < 32 {
		return errors.New("Ceremony SigningKey must be >= 32 bytes")
	}
	if c.WebAuthn.MaxDisplayNameLength <= 0 {
		return errors.New("WebAuthn MaxDisplayNameLength must be > 0")
	}
	return nil
}

func (c *Config) repositoryID() string {
	if c.RepositoryID != "" {
		return c.RepositoryID
	}
	return c.ProviderID
}

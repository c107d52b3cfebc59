package goIdP

import (
	"time"

	"github.com/MrEthical07/goIdP/internal/stores"
)

// SecurityReport is a read-only snapshot of a provider's security posture,
// meant for startup logs and health endpoints.
type SecurityReport struct {
	Realm        string
	ProviderID   string
	RepositoryID string
	Authority    string

	Password PasswordConfigReport

	PasswordResetActive bool
	ResetTTL            time.Duration
	ResetThrottled      bool

	ChallengeTTL          time.Duration
	AttestationPreference string
	UserVerification      string
	UntrustedAttestation  bool
	CeremoniesInRedis     bool

	AuditEnabled   bool
	MetricsEnabled bool
}

type PasswordConfigReport struct {
	Algorithm   string
	Iterations  int
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

func (e *Engine) securityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	return SecurityReport{
		Realm:          e.config.Realm,
		ProviderID:     e.config.ProviderID,
		RepositoryID:   e.repositoryID,
		Authority:      e.authority,
		AuditEnabled:   e.audit != nil,
		MetricsEnabled: e.metrics.Enabled(),
	}
}

// SecurityReport describes the hashing and reset settings in effect.
func (p *PasswordProvider) SecurityReport() SecurityReport {
	if p == nil {
		return SecurityReport{}
	}
	r := p.securityReport()
	cfg := p.config
	r.Password = PasswordConfigReport{
		Algorithm:  string(cfg.Password.Algorithm),
		SaltLength: cfg.Password.SaltLength,
		KeyLength:  cfg.Password.KeyLength,
	}
	if cfg.Password.Algorithm == PasswordArgon2 {
		r.Password.Memory = cfg.Password.Memory
		r.Password.Time = cfg.Password.Time
		r.Password.Parallelism = cfg.Password.Parallelism
	} else {
		r.Password.Iterations = cfg.Password.Iterations
	}
	r.PasswordResetActive = cfg.PasswordReset.Enabled
	if r.PasswordResetActive {
		r.ResetTTL = cfg.PasswordReset.ResetTTL
		r.ResetThrottled = p.resetLimiter != nil
	}
	return r
}

// SecurityReport describes the relying-party and ceremony settings in effect.
func (p *WebAuthnProvider) SecurityReport() SecurityReport {
	if p == nil {
		return SecurityReport{}
	}
	r := p.securityReport()
	cfg := p.config.WebAuthn
	r.ChallengeTTL = cfg.ChallengeTTL
	r.AttestationPreference = cfg.AttestationPreference
	r.UserVerification = cfg.UserVerification
	r.UntrustedAttestation = cfg.AllowUntrustedAttestation
	_, r.CeremoniesInRedis = p.ceremonies.(*stores.RedisCeremonyStore)
	return r
}

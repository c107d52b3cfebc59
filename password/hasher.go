package password

import (
	"errors"
	"strings"
)

const (
	AlgorithmPBKDF2 = "pbkdf2"
	AlgorithmArgon2 = "argon2"

	// DefaultMaxPasswordBytes bounds the work a single Hash or Verify call can
	// be asked to do.
	DefaultMaxPasswordBytes = 1024
)

var (
	ErrPasswordTooLong      = errors.New("password exceeds maximum length")
	ErrEmptyPassword        = errors.New("password must not be empty")
	ErrUnsupportedAlgorithm = errors.New("unsupported password algorithm")
)

// Config selects and tunes a hashing algorithm. Iterations applies to
// PBKDF2; Memory, Time and Parallelism apply to Argon2id.
type Config struct {
	Algorithm        string
	Iterations       uint32
	Memory           uint32
	Time             uint32
	Parallelism      uint8
	SaltLength       uint32
	KeyLength        uint32
	MaxPasswordBytes int
}

// Hasher produces and checks encoded password hashes.
type Hasher interface {
	Algorithm() string
	Hash(password string) (string, error)
	Verify(password string, encodedHash string) (bool, error)
	NeedsUpgrade(encodedHash string) (bool, error)
}

// Policy hashes with the configured algorithm and verifies hashes produced by
// any supported algorithm, so stored hashes keep working after the algorithm
// changes. NeedsUpgrade reports true for hashes of another algorithm.
type Policy struct {
	primary Hasher
	max     int
}

// New returns a Policy whose primary hasher is selected by cfg.Algorithm.
// An empty algorithm selects PBKDF2.
func New(cfg Config) (*Policy, error) {
	cfg = withDefaultLimits(cfg)

	var (
		primary Hasher
		err     error
	)
	switch cfg.Algorithm {
	case "", AlgorithmPBKDF2:
		primary, err = NewPBKDF2(cfg)
	case AlgorithmArgon2:
		primary, err = NewArgon2(cfg)
	default:
		return nil, ErrUnsupportedAlgorithm
	}
	if err != nil {
		return nil, err
	}

	return &Policy{primary: primary, max: cfg.MaxPasswordBytes}, nil
}

func (p *Policy) Algorithm() string {
	return p.primary.Algorithm()
}

func (p *Policy) Hash(password string) (string, error) {
	return p.primary.Hash(password)
}

func (p *Policy) Verify(password string, encodedHash string) (bool, error) {
	if len(password) > p.max {
		return false, ErrPasswordTooLong
	}
	switch algorithmOf(encodedHash) {
	case AlgorithmPBKDF2:
		return verifyPBKDF2(password, encodedHash)
	case AlgorithmArgon2:
		return verifyArgon2(password, encodedHash)
	default:
		return false, ErrUnsupportedAlgorithm
	}
}

func (p *Policy) NeedsUpgrade(encodedHash string) (bool, error) {
	algorithm := algorithmOf(encodedHash)
	if algorithm == "" {
		return false, ErrUnsupportedAlgorithm
	}
	if algorithm != p.primary.Algorithm() {
		return true, nil
	}
	return p.primary.NeedsUpgrade(encodedHash)
}

func algorithmOf(encodedHash string) string {
	switch {
	case strings.HasPrefix(encodedHash, "$"+pbkdf2ID+"$"):
		return AlgorithmPBKDF2
	case strings.HasPrefix(encodedHash, "$"+argon2ID+"$"):
		return AlgorithmArgon2
	default:
		return ""
	}
}

func withDefaultLimits(cfg Config) Config {
	if cfg.MaxPasswordBytes <= 0 {
		cfg.MaxPasswordBytes = DefaultMaxPasswordBytes
	}
	return cfg
}

// Password processing uses raw string bytes exactly as provided (no Unicode
// normalization).
func checkLength(password string, max int) error {
	if password == "" {
		return ErrEmptyPassword
	}
	if len(password) > max {
		return ErrPasswordTooLong
	}
	return nil
}

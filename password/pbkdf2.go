package password

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2ID            = "pbkdf2-sha256"
	minPBKDF2Iterations = 10000
)

// PBKDF2 hashes with PBKDF2-HMAC-SHA256.
//
// Output: $pbkdf2-sha256$i=<iterations>$<salt>$<hash>
type PBKDF2 struct {
	config Config
}

// NewPBKDF2 validates cfg and returns a PBKDF2 hasher.
func NewPBKDF2(cfg Config) (*PBKDF2, error) {
	cfg = withDefaultLimits(cfg)
	if cfg.Iterations < minPBKDF2Iterations {
		return nil, fmt.Errorf("password iterations must be >= %d", minPBKDF2Iterations)
	}
	if cfg.SaltLength < minSaltLength {
		return nil, errors.New("password salt length must be >= 16")
	}
	if cfg.KeyLength < minKeyLength {
		return nil, errors.New("password key length must be >= 16")
	}

	return &PBKDF2{config: cfg}, nil
}

func (p *PBKDF2) Algorithm() string {
	return AlgorithmPBKDF2
}

func (p *PBKDF2) Hash(password string) (string, error) {
	if err := checkLength(password, p.config.MaxPasswordBytes); err != nil {
		return "", err
	}

	salt := make([]byte, p.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	key := pbkdf2.Key([]byte(password), salt, int(p.config.Iterations), int(p.config.KeyLength), sha256.New)

	return fmt.Sprintf(
		"$%s$i=%d$%s$%s",
		pbkdf2ID,
		p.config.Iterations,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func (p *PBKDF2) Verify(password string, encodedHash string) (bool, error) {
	if len(password) > p.config.MaxPasswordBytes {
		return false, ErrPasswordTooLong
	}
	return verifyPBKDF2(password, encodedHash)
}

// NeedsUpgrade reports true when the stored hash used fewer iterations or a
// different key length than the current configuration.
func (p *PBKDF2) NeedsUpgrade(encodedHash string) (bool, error) {
	parsed, err := parsePBKDF2(encodedHash)
	if err != nil {
		return false, err
	}
	if p.config.Iterations > parsed.iterations {
		return true, nil
	}
	if p.config.KeyLength != uint32(len(parsed.hash)) {
		return true, nil
	}
	return false, nil
}

type parsedPBKDF2 struct {
	iterations uint32
	salt       []byte
	hash       []byte
}

func verifyPBKDF2(password, encodedHash string) (bool, error) {
	parsed, err := parsePBKDF2(encodedHash)
	if err != nil {
		return false, err
	}

	computed := pbkdf2.Key([]byte(password), parsed.salt, int(parsed.iterations), len(parsed.hash), sha256.New)
	return subtle.ConstantTimeCompare(computed, parsed.hash) == 1, nil
}

func parsePBKDF2(encodedHash string) (*parsedPBKDF2, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 5 || parts[0] != "" {
		return nil, errors.New("invalid PHC format")
	}
	if parts[1] != pbkdf2ID {
		return nil, errors.New("unsupported algorithm")
	}
	if !strings.HasPrefix(parts[2], "i=") {
		return nil, errors.New("missing iteration count")
	}

	iterations, err := strconv.ParseUint(strings.TrimPrefix(parts[2], "i="), 10, 32)
	if err != nil || iterations < minPBKDF2Iterations {
		return nil, errors.New("invalid iteration count")
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return nil, errors.New("invalid salt encoding")
	}
	if len(salt) < int(minSaltLength) {
		return nil, errors.New("invalid salt length")
	}

	hash, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, errors.New("invalid hash encoding")
	}
	if len(hash) < int(minKeyLength) {
		return nil, errors.New("invalid hash length")
	}

	return &parsedPBKDF2{
		iterations: uint32(iterations),
		salt:       salt,
		hash:       hash,
	}, nil
}

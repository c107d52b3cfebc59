package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

type CeremonyID [16]byte

const (
	MinResetKeyLength = 20
	userHandleSize    = 32
	resetKeyAlphabet  = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

func NewCeremonyID() (CeremonyID, error) {
	var id CeremonyID
	_, err := rand.Read(id[:])
	return id, err
}

func (c CeremonyID) String() string {
	// base64url, no padding, compact
	return base64.RawURLEncoding.EncodeToString(c[:])
}

func ParseCeremonyID(value string) (CeremonyID, error) {
	var id CeremonyID

	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return id, err
	}
	if len(raw) != len(id) {
		return id, errors.New("invalid ceremony id size")
	}

	copy(id[:], raw)
	return id, nil
}

// NewResetKey draws length characters uniformly from [A-Za-z0-9].
func NewResetKey(length int) (string, error) {
	if length < MinResetKeyLength {
		return "", fmt.Errorf("reset key length %d below minimum %d", length, MinResetKeyLength)
	}

	var b strings.Builder
	b.Grow(length)

	max := big.NewInt(int64(len(resetKeyAlphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(resetKeyAlphabet[n.Int64()])
	}

	return b.String(), nil
}

func HashResetKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func NewUserHandle() ([]byte, error) {
	handle := make([]byte, userHandleSize)
	if _, err := rand.Read(handle); err != nil {
		return nil, err
	}
	return handle, nil
}

func NewTemporaryPassword(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("invalid temporary password length")
	}
	raw := make([]byte, length)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

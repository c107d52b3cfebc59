package jwt

import (
	"testing"
	"time"
)

// FuzzParseHandle feeds arbitrary strings to the handle parser. Malformed
// input must be rejected with an error, never a panic.
func FuzzParseHandle(f *testing.F) {
	mgr, err := NewManager(Config{
		TTL:           5 * time.Minute,
		SigningMethod: MethodHS256,
		PrivateKey:    testHMACKey,
		Issuer:        "fuzz-realm",
		Audience:      "fuzz-provider",
		Leeway:        30 * time.Second,
	})
	if err != nil {
		f.Fatal(err)
	}

	validHandle, _, err := mgr.CreateHandle("cid", "registration", "uid")
	if err != nil {
		f.Fatal(err)
	}

	f.Add(validHandle)
	f.Add("")
	f.Add("not.a.jwt")
	f.Add("eyJhbGciOiJFZERTQSJ9.eyJ1aWQiOiJ0ZXN0In0.invalid")
	f.Add("eyJhbGciOiJub25lIn0.eyJ1aWQiOiJ0ZXN0In0.")

	f.Fuzz(func(t *testing.T, input string) {
		claims, err := mgr.ParseHandle(input, "registration")
		if err != nil {
			return
		}
		if claims == nil || claims.ID == "" {
			t.Fatal("ParseHandle accepted a handle without ceremony id")
		}
	})
}

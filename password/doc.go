// Package password implements password hashing and verification.
//
// # Output format
//
// Hashes are encoded as PHC strings:
//
//	$pbkdf2-sha256$i=<iterations>$<salt>$<hash>
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Policy] hashes with the configured algorithm and verifies either format.
// When a stored hash was produced by another algorithm or with weaker
// parameters, [Policy.NeedsUpgrade] returns true so the caller can re-hash
// after the next successful verification.
//
// # Architecture boundaries
//
// This package owns hashing and verification only. Password policy (minimum
// length, expiry) is enforced by the password provider.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords. Callers supply plaintext and receive hashes.
//   - Import any other goIdP package.
//   - Log plaintext passwords or hash parameters at runtime.
package password

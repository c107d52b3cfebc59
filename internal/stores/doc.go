// Package stores holds the short-lived WebAuthn ceremony state.
//
// # Design
//
// A ceremony record is a versioned, binary-encoded envelope around an opaque
// payload. The Redis store keeps it under a TTL and moves it between stages
// with WATCH/MULTI optimistic transactions, retrying on contention. Consume
// reads and deletes in one transaction, so a ceremony completes at most once.
// The memory store offers the same contract behind a mutex.
//
// # What this package must NOT do
//
//   - Import goIdP or any sibling internal package.
//   - Interpret the payload. Stage numbers are owned by the caller.
package stores

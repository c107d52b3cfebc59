// Package goIdP is the credential core of a multi-tenant identity provider:
// password accounts with key-based reset, and WebAuthn passkeys with
// server-held ceremony state and signature counter replay protection.
//
// A provider is one credential mechanism bound to one realm and one
// repository partition. Providers are built by [Builder.BuildPassword] and
// [Builder.BuildWebAuthn] and share an embedded [Engine] carrying the account
// lifecycle, audit and metrics. A [Registry] maps (realm, provider id) pairs
// to providers and dispatches by capability.
//
// # Architecture boundaries
//
// goIdP is the public surface. Persistence is consumed through the store
// interfaces ([AccountStore], [PasswordCredentialStore],
// [WebAuthnCredentialStore]); package gormstore provides SQL adapters.
// Flow orchestration, ceremony storage, throttling and audit dispatch live
// under internal/ and are never exported.
//
// # Concurrency
//
// Provider methods are safe to call from multiple goroutines. Per-account
// mutations use optimistic versioning with bounded retry; the signature
// counter is advanced by a single conditional write.
package goIdP

// Package internal contains helpers that are private to goIdP: ceremony ids,
// reset keys, user handles and temporary passwords.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher and Sink implementations)
//   - flows: pure-function orchestrators for the credential operations
//   - limiters: Redis fixed-window throttles for password reset
//   - stores: WebAuthn ceremony state in Redis or memory
//
// # What this package must NOT do
//
//   - Export types that appear in the public goIdP API.
//   - Be imported by any package outside the goIdP module.
package internal

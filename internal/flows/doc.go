// Package flows contains pure-function orchestrators for the credential
// operations.
//
// Each flow function (RunVerifyPassword, RunConfirmPasswordReset,
// RunRecordAssertion, etc.) accepts a typed dependency struct of closures and
// returns results without side-effects beyond those dependencies. Account and
// credential records are passed through as type parameters, so the same loops
// serve any store.
//
// # Architecture boundaries
//
// Flow functions coordinate stores, limiters, audit and metrics. They do NOT
// own any of these resources; ownership stays with the providers.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import goIdP (to avoid import cycles).
//   - Perform I/O directly. All I/O is mediated through dependency closures.
package flows

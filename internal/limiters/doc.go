// Package limiters provides Redis-backed fixed-window limiters for the
// credential flows.
//
// # Limiters
//
//   - [PasswordResetLimiter]: per-identifier and per-IP throttle for reset
//     requests, per-IP throttle for key checks.
//
// Keys are scoped by realm and provider so two providers never share a budget.
// A nil limiter allows every call.
//
// # What this package must NOT do
//
//   - Import goIdP or any sibling internal package.
//   - Make policy decisions beyond counting. Flow functions decide consequences.
package limiters

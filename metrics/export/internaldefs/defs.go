package internaldefs

import (
	goIdP "github.com/MrEthical07/goIdP"
)

// CounterDef defines a public type used by goIdP APIs.
//
// CounterDef instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type CounterDef struct {
	ID   goIdP.MetricID
	Name string
	Help string
}

// HistogramDef defines a public type used by goIdP APIs.
//
// HistogramDef instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type HistogramDef struct {
	ID   goIdP.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter.
var CounterDefs = []CounterDef{
	{ID: goIdP.MetricAccountLocked, Name: "goidp_account_locked_total", Help: "Account lock operations."},
	{ID: goIdP.MetricAccountUnlocked, Name: "goidp_account_unlocked_total", Help: "Account unlock operations."},
	{ID: goIdP.MetricAccountStatusChanged, Name: "goidp_account_status_changed_total", Help: "Account status transitions."},
	{ID: goIdP.MetricAccountLinked, Name: "goidp_account_linked_total", Help: "Accounts linked to a user."},
	{ID: goIdP.MetricAccountDeleted, Name: "goidp_account_deleted_total", Help: "Account delete operations."},
	{ID: goIdP.MetricPasswordVerifySuccess, Name: "goidp_password_verify_success_total", Help: "Password verifications that matched."},
	{ID: goIdP.MetricPasswordVerifyFailure, Name: "goidp_password_verify_failure_total", Help: "Password verifications that did not match."},
	{ID: goIdP.MetricPasswordExpired, Name: "goidp_password_expired_total", Help: "Verifications that skipped an expired credential."},
	{ID: goIdP.MetricPasswordRehashed, Name: "goidp_password_rehashed_total", Help: "Hashes upgraded after a successful verify."},
	{ID: goIdP.MetricPasswordSet, Name: "goidp_password_set_total", Help: "Passwords installed by SetPassword."},
	{ID: goIdP.MetricPasswordRevoked, Name: "goidp_password_revoked_total", Help: "Revoked password credentials."},
	{ID: goIdP.MetricPasswordResetRequest, Name: "goidp_password_reset_request_total", Help: "Password reset requests."},
	{ID: goIdP.MetricPasswordResetVerify, Name: "goidp_password_reset_verify_total", Help: "Reset key checks."},
	{ID: goIdP.MetricPasswordResetConfirmSuccess, Name: "goidp_password_reset_confirm_success_total", Help: "Successful password reset confirmations."},
	{ID: goIdP.MetricPasswordResetConfirmFailure, Name: "goidp_password_reset_confirm_failure_total", Help: "Failed password reset confirmations."},
	{ID: goIdP.MetricPasswordResetRateLimited, Name: "goidp_password_reset_rate_limited_total", Help: "Rate-limited password reset calls."},
	{ID: goIdP.MetricPasswordResetNotifyFailure, Name: "goidp_password_reset_notify_failure_total", Help: "Reset notifications that could not be sent."},
	{ID: goIdP.MetricWebAuthnRegistrationStarted, Name: "goidp_webauthn_registration_started_total", Help: "Started registration ceremonies."},
	{ID: goIdP.MetricWebAuthnRegistrationSuccess, Name: "goidp_webauthn_registration_success_total", Help: "Saved WebAuthn credentials."},
	{ID: goIdP.MetricWebAuthnRegistrationFailure, Name: "goidp_webauthn_registration_failure_total", Help: "Failed registration ceremonies."},
	{ID: goIdP.MetricWebAuthnAuthenticationStarted, Name: "goidp_webauthn_authentication_started_total", Help: "Started authentication ceremonies."},
	{ID: goIdP.MetricWebAuthnAuthenticationSuccess, Name: "goidp_webauthn_authentication_success_total", Help: "Successful WebAuthn assertions."},
	{ID: goIdP.MetricWebAuthnAuthenticationFailure, Name: "goidp_webauthn_authentication_failure_total", Help: "Failed WebAuthn assertions."},
	{ID: goIdP.MetricWebAuthnCounterReplay, Name: "goidp_webauthn_counter_replay_total", Help: "Assertions rejected for a non-increasing signature counter."},
	{ID: goIdP.MetricWebAuthnCredentialDeleted, Name: "goidp_webauthn_credential_deleted_total", Help: "Deleted WebAuthn credentials."},
	{ID: goIdP.MetricRateLimitHit, Name: "goidp_rate_limit_hit_total", Help: "Rate-limit checks that denied requests."},
}

// HistogramDefs lists every exported latency histogram.
var HistogramDefs = []HistogramDef{
	{ID: goIdP.MetricPasswordVerifyLatency, Name: "goidp_password_verify_latency_seconds", Help: "Password verify latency histogram."},
	{ID: goIdP.MetricWebAuthnFinishLatency, Name: "goidp_webauthn_finish_latency_seconds", Help: "WebAuthn ceremony finish latency histogram."},
}

// HistogramBounds are the upper bounds, in seconds, of the histogram buckets.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix renders HistogramBounds in metric-name-safe form.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets describes the normalizebuckets operation and its observable behavior.
//
// NormalizeBuckets may return an error when input validation, dependency calls, or security checks fail.
// NormalizeBuckets does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets describes the cumulativebuckets operation and its observable behavior.
//
// CumulativeBuckets may return an error when input validation, dependency calls, or security checks fail.
// CumulativeBuckets does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}

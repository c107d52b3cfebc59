// Package jwt signs and verifies WebAuthn ceremony handles.
//
// A handle is a short-lived JWT whose jti names a ceremony record held by the
// server. Issuer and audience pin it to one realm and one provider. The
// challenge and session data never leave the server.
package jwt

// Package sessions implements the credential and session lifecycle for a
// user-facing application: registration, login, authoritative session
// checks, logout, and the time-bounded verification artifacts (email
// confirmation, password reset) that accompany them.
//
// Lifecycle:
//   - Sessions are long-lived server records created on login and revoked on
//     logout. Validity is always the derived predicate
//     !Revoked && now < ExpiresAt, evaluated at read time; nothing depends on
//     a background sweep.
//   - Access grants are short-lived JWTs re-derivable from a valid session.
//     They are never persisted.
//   - Verification artifacts are single-use records consumed atomically, so
//     two concurrent confirmation attempts can never both succeed.
//
// Expiry policy lives in one place (clock.go); components receive a Clock so
// tests can pin the current instant.
//
// The client subpackage mirrors server-asserted authentication state into a
// small snapshot store with explicit per-operation transitions and a
// pluggable persistence port.
package sessions

package sessions

import (
	goerrors "github.com/goliatone/go-errors"
)

const (
	textCodeDuplicateEmail     = "DUPLICATE_EMAIL"
	textCodeInvalidCredentials = "INVALID_CREDENTIALS"
	textCodeAccountUnverified  = "ACCOUNT_UNVERIFIED"
	textCodeNoActiveSession    = "NO_ACTIVE_SESSION"
	textCodeGrantExpired       = "GRANT_EXPIRED"
	textCodeGrantMalformed     = "GRANT_MALFORMED"
	textCodeSessionRevoked     = "SESSION_REVOKED"
	textCodeArtifactNotFound   = "ARTIFACT_NOT_FOUND"
	textCodeArtifactExpired    = "ARTIFACT_EXPIRED"
	textCodeArtifactConsumed   = "ARTIFACT_ALREADY_CONSUMED"
	textCodeDeliveryFailed     = "DELIVERY_FAILED"
)

// ErrDuplicateEmail is returned when registering an email that is already
// bound to an identity.
var ErrDuplicateEmail = goerrors.New("email already registered", goerrors.CategoryConflict).
	WithTextCode(textCodeDuplicateEmail).
	WithCode(goerrors.CodeConflict)

// ErrInvalidCredentials is returned for both unknown identifiers and wrong
// passwords. Callers must not be able to tell which one happened.
var ErrInvalidCredentials = goerrors.New("invalid credentials", goerrors.CategoryAuth).
	WithTextCode(textCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrAccountUnverified is returned when verification gating is enabled and
// the account has not confirmed its email.
var ErrAccountUnverified = goerrors.New("account email is not verified", goerrors.CategoryAuth).
	WithTextCode(textCodeAccountUnverified).
	WithCode(goerrors.CodeForbidden)

// ErrNoActiveSession covers missing, malformed, expired, and revoked
// sessions alike.
var ErrNoActiveSession = goerrors.New("no active session", goerrors.CategoryAuth).
	WithTextCode(textCodeNoActiveSession).
	WithCode(goerrors.CodeUnauthorized)

// ErrGrantExpired is returned when an access grant is past its expiry.
var ErrGrantExpired = goerrors.New("access grant expired", goerrors.CategoryAuth).
	WithTextCode(textCodeGrantExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrGrantMalformed is returned when an access grant cannot be parsed or its
// signature does not verify.
var ErrGrantMalformed = goerrors.New("access grant malformed", goerrors.CategoryAuth).
	WithTextCode(textCodeGrantMalformed).
	WithCode(goerrors.CodeUnauthorized)

// ErrSessionRevoked is returned by stores when a session exists but has been
// explicitly revoked. The authority maps it to ErrNoActiveSession before it
// reaches a client.
var ErrSessionRevoked = goerrors.New("session has been revoked", goerrors.CategoryAuth).
	WithTextCode(textCodeSessionRevoked).
	WithCode(goerrors.CodeUnauthorized)

// ErrArtifactNotFound is returned when consuming an unknown verification
// artifact.
var ErrArtifactNotFound = goerrors.New("verification artifact not found", goerrors.CategoryNotFound).
	WithTextCode(textCodeArtifactNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrArtifactExpired is returned when an artifact exists but its window has
// passed.
var ErrArtifactExpired = goerrors.New("verification artifact expired", goerrors.CategoryValidation).
	WithTextCode(textCodeArtifactExpired).
	WithCode(goerrors.CodeBadRequest)

// ErrArtifactConsumed is returned when an artifact was already used. Exactly
// one of two concurrent consumers receives it.
var ErrArtifactConsumed = goerrors.New("verification artifact already consumed", goerrors.CategoryConflict).
	WithTextCode(textCodeArtifactConsumed).
	WithCode(goerrors.CodeConflict)

// ErrDeliveryFailed is returned when the mail transport rejects a message.
// Artifact creation is never rolled back on delivery failure; the artifact
// stays valid for a resend.
var ErrDeliveryFailed = goerrors.New("verification message delivery failed", goerrors.CategoryOperation).
	WithTextCode(textCodeDeliveryFailed).
	WithCode(goerrors.CodeInternal)

// ErrTooManyLoginAttempts is returned when an account is cooling down after
// repeated failures.
var ErrTooManyLoginAttempts = goerrors.New("too many login attempts", goerrors.CategoryRateLimit).
	WithTextCode("TOO_MANY_LOGIN_ATTEMPTS")

// ErrNoEmptyString rejects empty credential input before it reaches bcrypt.
var ErrNoEmptyString = goerrors.New("value must not be empty", goerrors.CategoryBadInput).
	WithCode(goerrors.CodeBadRequest)

// IsAuthFailure reports whether err is one of the credential/session errors
// that should surface as 401 without detail.
func IsAuthFailure(err error) bool {
	if err == nil {
		return false
	}
	return goerrors.Is(err, ErrInvalidCredentials) ||
		goerrors.Is(err, ErrNoActiveSession) ||
		goerrors.Is(err, ErrGrantExpired) ||
		goerrors.Is(err, ErrGrantMalformed) ||
		goerrors.Is(err, ErrSessionRevoked)
}

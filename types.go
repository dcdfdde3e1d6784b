package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// TokenIssuer mints and verifies the credentials the authority hands out:
// short-lived signed access grants and long-lived refresh sessions.
type TokenIssuer interface {
	IssueAccessGrant(subjectID string) (string, error)
	VerifyAccessGrant(token string) (string, error)
	IssueRefreshSession(subjectID uuid.UUID) *Session
}

// UserStore is the slice of user persistence the authority needs.
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	Create(ctx context.Context, user *User) (*User, error)
	MarkVerified(ctx context.Context, id uuid.UUID) error
	ResetPassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	TrackAttemptedLogin(ctx context.Context, user *User) error
	TrackSuccessfulLogin(ctx context.Context, user *User) error
}

// SessionStore holds refresh sessions. Revoke must be idempotent: revoking
// an unknown or already revoked session is not an error.
type SessionStore interface {
	Create(ctx context.Context, session *Session) (*Session, error)
	Get(ctx context.Context, id uuid.UUID) (*Session, error)
	Revoke(ctx context.Context, id uuid.UUID, at time.Time) error
}

// ArtifactStore persists verification artifacts. Consume is an atomic
// read-modify-write: of two concurrent consumers exactly one succeeds, the
// other receives ErrArtifactConsumed.
type ArtifactStore interface {
	Create(ctx context.Context, artifact *VerificationArtifact) (*VerificationArtifact, error)
	Get(ctx context.Context, id uuid.UUID) (*VerificationArtifact, error)
	Consume(ctx context.Context, id uuid.UUID, now time.Time) (*VerificationArtifact, error)
}

// Config holds authority options
type Config interface {
	GetSigningKey() string
	GetIssuer() string
	GetAudience() []string
	GetSessionCookieName() string
	GetGrantCookieName() string
	GetRequireVerified() bool
	GetVerificationBaseURL() string
}

// SimpleConfig is a plain-struct Config.
type SimpleConfig struct {
	SigningKey          string
	Issuer              string
	Audience            []string
	SessionCookieName   string
	GrantCookieName     string
	RequireVerified     bool
	VerificationBaseURL string
}

func (c SimpleConfig) GetSigningKey() string { return c.SigningKey }

func (c SimpleConfig) GetIssuer() string { return c.Issuer }

func (c SimpleConfig) GetAudience() []string { return c.Audience }

func (c SimpleConfig) GetSessionCookieName() string {
	if c.SessionCookieName == "" {
		return "session_id"
	}
	return c.SessionCookieName
}

func (c SimpleConfig) GetGrantCookieName() string {
	if c.GrantCookieName == "" {
		return "access_grant"
	}
	return c.GrantCookieName
}

func (c SimpleConfig) GetRequireVerified() bool { return c.RequireVerified }

func (c SimpleConfig) GetVerificationBaseURL() string {
	if c.VerificationBaseURL == "" {
		return "http://localhost:3000"
	}
	return c.VerificationBaseURL
}

var _ Config = SimpleConfig{}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] SESSIONS "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] SESSIONS "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] SESSIONS "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] SESSIONS "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}

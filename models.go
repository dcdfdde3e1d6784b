package sessions

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is the identity record. It is created at registration, mutated by
// verification completion and password resets, and never deleted here.
type User struct {
	bun.BaseModel  `bun:"table:users,alias:usr"`
	ID             uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Username       string     `bun:"username,notnull,unique" json:"username,omitempty"`
	Email          string     `bun:"email,notnull,unique" json:"email,omitempty"`
	PasswordHash   string     `bun:"password_hash" json:"-"`
	EmailVerified  bool       `bun:"is_email_verified" json:"is_email_verified"`
	ProfilePicture string     `bun:"profile_picture" json:"profile_picture,omitempty"`
	LoginAttempts  int        `bun:"login_attempts" json:"login_attempts,omitempty"`
	LoginAttemptAt *time.Time `bun:"login_attempt_at" json:"login_attempt_at,omitempty"`
	LoggedInAt     *time.Time `bun:"loggedin_at" json:"loggedin_at,omitempty"`
	CreatedAt      *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt      *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt      *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// Public returns a copy safe to hand to clients. The credential hash stays
// out of JSON via the struct tag; this also drops the login bookkeeping.
func (u *User) Public() *User {
	if u == nil {
		return nil
	}
	return &User{
		ID:             u.ID,
		Username:       u.Username,
		Email:          u.Email,
		EmailVerified:  u.EmailVerified,
		ProfilePicture: u.ProfilePicture,
		CreatedAt:      u.CreatedAt,
	}
}

// NormalizeEmail lower-cases and trims an email so uniqueness checks are
// case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// UsernameFromEmail derives a default username when none is supplied.
func UsernameFromEmail(username, email string) string {
	if username != "" {
		return username
	}

	if strings.Contains(email, "@") {
		username = strings.Split(email, "@")[0]
	}

	return username
}

// Session is the authoritative record of a login event. Rotation always
// creates a new row; an existing session only ever moves to revoked.
type Session struct {
	bun.BaseModel `bun:"table:sessions,alias:ses"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID        uuid.UUID  `bun:"user_id,notnull,type:uuid" json:"user_id,omitempty"`
	IssuedAt      time.Time  `bun:"issued_at,notnull" json:"issued_at,omitempty"`
	ExpiresAt     time.Time  `bun:"expires_at,notnull" json:"expires_at,omitempty"`
	Revoked       bool       `bun:"revoked,notnull,default:false" json:"revoked"`
	RevokedAt     *time.Time `bun:"revoked_at,nullzero" json:"revoked_at,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// Expired reports whether the session window has passed. Expiry is derived
// at read time, never stored as a transition.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Valid is the session invariant: !revoked && now < expiresAt.
func (s *Session) Valid(now time.Time) bool {
	if s == nil {
		return false
	}
	return !s.Revoked && !s.Expired(now)
}

// ArtifactPurpose distinguishes verification flows. Each purpose carries its
// own expiry window.
type ArtifactPurpose string

const (
	PurposeEmailVerify   ArtifactPurpose = "email-verify"
	PurposePasswordReset ArtifactPurpose = "password-reset"
)

// LifetimeFor maps a purpose to its policy window.
func LifetimeFor(purpose ArtifactPurpose) time.Duration {
	switch purpose {
	case PurposePasswordReset:
		return PasswordResetLifetime
	default:
		return EmailVerificationLifetime
	}
}

// VerificationArtifact is a single-use, time-bounded token proving control
// of an out-of-band channel. Consumed flips irreversibly to true.
type VerificationArtifact struct {
	bun.BaseModel `bun:"table:verification_artifacts,alias:vfa"`
	ID            uuid.UUID       `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID        uuid.UUID       `bun:"user_id,notnull,type:uuid" json:"user_id,omitempty"`
	Purpose       ArtifactPurpose `bun:"purpose,notnull" json:"purpose,omitempty"`
	ExpiresAt     time.Time       `bun:"expires_at,notnull" json:"expires_at,omitempty"`
	Consumed      bool            `bun:"consumed,notnull,default:false" json:"consumed"`
	ConsumedAt    *time.Time      `bun:"consumed_at,nullzero" json:"consumed_at,omitempty"`
	CreatedAt     *time.Time      `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// Expired reports whether the artifact window has passed.
func (a *VerificationArtifact) Expired(now time.Time) bool {
	return !now.Before(a.ExpiresAt)
}

// Usable reports whether the artifact can still be consumed.
func (a *VerificationArtifact) Usable(now time.Time) bool {
	if a == nil {
		return false
	}
	return !a.Consumed && !a.Expired(now)
}

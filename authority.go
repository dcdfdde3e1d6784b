package sessions

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// MaxLoginAttempts is the maximum number of attempts a user gets
// in a period
var MaxLoginAttempts = 5

// CoolDownPeriod is the period in which we enforce a cool down
var CoolDownPeriod = "24h"

// RegisterPayload carries registration input. Validation happens at the
// transport edge; the authority still normalizes the email.
type RegisterPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

// RegisterResult reports a completed registration. VerificationSent is
// false when the mail transport rejected the message; the identity exists
// either way and the artifact remains valid for a resend.
type RegisterResult struct {
	User             *User  `json:"user"`
	VerificationSent bool   `json:"verification_sent"`
	DeliveryError    string `json:"delivery_error,omitempty"`
}

// LoginResult is what a successful login hands back: the identity, the
// persisted refresh session, and a short-lived access grant.
type LoginResult struct {
	User        *User    `json:"user"`
	Session     *Session `json:"-"`
	AccessGrant string   `json:"-"`
}

// Authority is the server-side source of truth for authentication state.
// Session validity is always derived at read time; the only stored
// transition is Active to Revoked, and re-authentication creates a new
// session rather than reviving one.
type Authority struct {
	repo            RepositoryManager
	sessions        SessionStore
	issuer          TokenIssuer
	dispatcher      *Dispatcher
	clock           Clock
	logger          Logger
	activitySink    ActivitySink
	requireVerified bool
}

type AuthorityOption func(*Authority)

// WithSessionStore swaps the bun-backed session store for an alternative,
// e.g. RedisSessionStore for multi-node deployments.
func WithSessionStore(store SessionStore) AuthorityOption {
	return func(a *Authority) {
		if store != nil {
			a.sessions = store
		}
	}
}

// WithAuthorityClock injects a custom clock (useful for tests).
func WithAuthorityClock(clock Clock) AuthorityOption {
	return func(a *Authority) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// WithAuthorityLogger overrides the default logger.
func WithAuthorityLogger(logger Logger) AuthorityOption {
	return func(a *Authority) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func WithActivitySink(sink ActivitySink) AuthorityOption {
	return func(a *Authority) {
		a.activitySink = normalizeActivitySink(sink)
	}
}

// WithRequireVerified gates login on a confirmed email address.
func WithRequireVerified(require bool) AuthorityOption {
	return func(a *Authority) {
		a.requireVerified = require
	}
}

func NewAuthority(repo RepositoryManager, issuer TokenIssuer, dispatcher *Dispatcher, opts ...AuthorityOption) *Authority {
	a := &Authority{
		repo:         repo,
		sessions:     repo.Sessions(),
		issuer:       issuer,
		dispatcher:   dispatcher,
		clock:        SystemClock{},
		logger:       defLogger{},
		activitySink: noopActivitySink{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}

	return a
}

// Register creates an unverified identity and dispatches the confirmation
// mail. A duplicate email fails with ErrDuplicateEmail; a mail-transport
// rejection does NOT fail the registration, it is reported on the result so
// callers can offer a resend path.
func (a *Authority) Register(ctx context.Context, payload RegisterPayload) (*RegisterResult, error) {
	user := &User{}
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	email := NormalizeEmail(payload.Email)

	err := a.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := a.repo.Users().GetByEmailTx(ctx, tx, email); err == nil {
			return ErrDuplicateEmail
		} else if !goerrors.IsNotFound(err) {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check email availability")
		}

		hash, err := HashPassword(payload.Password)
		if err != nil {
			var richErr *goerrors.Error
			if goerrors.As(err, &richErr) {
				return goerrors.Wrap(richErr, goerrors.CategoryValidation, "invalid password provided")
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
		}

		user.Email = email
		user.PasswordHash = hash
		user.Username = UsernameFromEmail(payload.Username, email)
		user.ProfilePicture = payload.Avatar
		if id, err := hashid.NewUUID(email); err == nil {
			user.ID = id
		}

		if user, err = a.repo.Users().CreateTx(ctx, tx, user); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryConflict, "could not create user")
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return nil, richErr
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "user registration transaction failed")
	}

	a.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventRegistration,
		UserID:    user.ID.String(),
	})

	result := &RegisterResult{User: user.Public()}

	if err := a.dispatchVerification(ctx, user, PurposeEmailVerify); err != nil {
		result.DeliveryError = ErrDeliveryFailed.Message
		return result, nil
	}

	result.VerificationSent = true
	return result, nil
}

// Login verifies credentials and, on success, issues a refresh session plus
// an access grant. Unknown email and wrong password are indistinguishable.
func (a *Authority) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	user, err := a.repo.Users().GetByEmail(ctx, email)
	if err != nil {
		if goerrors.IsNotFound(err) {
			a.emitLoginFailure(ctx, "", email)
			return nil, ErrInvalidCredentials
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user during login")
	}

	if user.LoginAttemptAt != nil {
		expired, err := IsOutsideThresholdPeriod(a.clock.Now(), *user.LoginAttemptAt, CoolDownPeriod)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to calculate login attempt cooldown")
		}

		if expired {
			user.LoginAttempts = 0
		}
	}

	// if we have too many attempts in the given window, cool off!
	if user.LoginAttempts > MaxLoginAttempts {
		a.emitLoginFailure(ctx, user.ID.String(), email)
		return nil, ErrTooManyLoginAttempts
	}

	if err := ComparePasswordAndHash(password, user.PasswordHash); err != nil {
		if err2 := a.repo.Users().TrackAttemptedLogin(ctx, user); err2 != nil {
			return nil, goerrors.Wrap(err2, goerrors.CategoryInternal, "failed to track login attempt")
		}

		a.emitLoginFailure(ctx, user.ID.String(), email)
		return nil, ErrInvalidCredentials
	}

	if a.requireVerified && !user.EmailVerified {
		a.emitLoginFailure(ctx, user.ID.String(), email)
		return nil, ErrAccountUnverified
	}

	if err := a.repo.Users().TrackSuccessfulLogin(ctx, user); err != nil {
		a.logger.Error("failed to track successful login", "error", err)
	}

	session := a.issuer.IssueRefreshSession(user.ID)
	if session, err = a.sessions.Create(ctx, session); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist session")
	}

	grant, err := a.issuer.IssueAccessGrant(user.ID.String())
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to issue access grant")
	}

	a.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventLoginSuccess,
		UserID:    user.ID.String(),
	})

	return &LoginResult{
		User:        user.Public(),
		Session:     session,
		AccessGrant: grant,
	}, nil
}

// CheckSession resolves a session token to its identity. It is an
// idempotent read: missing, malformed, expired, and revoked sessions all
// fail with ErrNoActiveSession and nothing else is mutated.
func (a *Authority) CheckSession(ctx context.Context, sessionToken string) (*User, error) {
	id, err := uuid.Parse(sessionToken)
	if err != nil {
		return nil, ErrNoActiveSession
	}

	session, err := a.sessions.Get(ctx, id)
	if err != nil {
		if goerrors.IsNotFound(err) || goerrors.Is(err, ErrNoActiveSession) {
			return nil, ErrNoActiveSession
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load session")
	}

	now := a.clock.Now()
	if !session.Valid(now) {
		reason := "expired"
		if session.Revoked {
			reason = "revoked"
		}
		a.recordActivity(ctx, ActivityEvent{
			EventType: ActivityEventSessionRejected,
			UserID:    session.UserID.String(),
			Metadata:  map[string]any{"reason": reason},
		})
		return nil, ErrNoActiveSession
	}

	user, err := a.repo.Users().GetByID(ctx, session.UserID)
	if err != nil {
		if goerrors.IsNotFound(err) {
			return nil, ErrNoActiveSession
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load session identity")
	}

	return user.Public(), nil
}

// Logout revokes the presented session. It is idempotent: unknown,
// malformed, and already revoked tokens all succeed.
func (a *Authority) Logout(ctx context.Context, sessionToken string) error {
	id, err := uuid.Parse(sessionToken)
	if err != nil {
		return nil
	}

	if err := a.sessions.Revoke(ctx, id, a.clock.Now()); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to revoke session")
	}

	a.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventLogout,
		UserID:    id.String(),
	})

	return nil
}

// VerifyAccessGrant resolves a bearer grant to its subject ID.
func (a *Authority) VerifyAccessGrant(token string) (string, error) {
	return a.issuer.VerifyAccessGrant(token)
}

// CompleteVerification consumes an email-verify artifact and flips the
// identity to verified in the same transaction as the consumption.
func (a *Authority) CompleteVerification(ctx context.Context, artifactID uuid.UUID) (*User, error) {
	user := &User{}

	err := a.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		artifact, err := a.repo.Artifacts().ConsumeTx(ctx, tx, artifactID, a.clock.Now())
		if err != nil {
			return err
		}

		if artifact.Purpose != PurposeEmailVerify {
			return ErrArtifactNotFound
		}

		if err := a.repo.Users().MarkVerifiedTx(ctx, tx, artifact.UserID); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to mark user verified")
		}

		if user, err = a.repo.Users().GetByIDTx(ctx, tx, artifact.UserID); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load verified user")
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return nil, richErr
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "verification transaction failed")
	}

	a.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventVerificationComplete,
		UserID:    user.ID.String(),
	})

	return user.Public(), nil
}

// CompletePasswordReset consumes a password-reset artifact and replaces the
// credential hash atomically with the consumption.
func (a *Authority) CompletePasswordReset(ctx context.Context, artifactID uuid.UUID, newPassword string) error {
	hash, err := HashPassword(newPassword)
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return goerrors.Wrap(richErr, goerrors.CategoryValidation, "invalid password provided")
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	var userID uuid.UUID

	err = a.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		artifact, err := a.repo.Artifacts().ConsumeTx(ctx, tx, artifactID, a.clock.Now())
		if err != nil {
			return err
		}

		if artifact.Purpose != PurposePasswordReset {
			return ErrArtifactNotFound
		}

		userID = artifact.UserID

		return a.repo.Users().ResetPasswordTx(ctx, tx, artifact.UserID, hash)
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "password reset transaction failed")
	}

	a.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventPasswordResetSuccess,
		UserID:    userID.String(),
	})

	return nil
}

// RequestPasswordReset creates and mails a reset artifact. Unknown emails
// succeed silently so the endpoint cannot be used for account enumeration.
func (a *Authority) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := a.repo.Users().GetByEmail(ctx, email)
	if err != nil {
		if goerrors.IsNotFound(err) {
			return nil
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user for password reset")
	}

	return a.dispatchVerification(ctx, user, PurposePasswordReset)
}

// ResendVerification re-dispatches the email-confirmation mail after a
// delivery failure. Verified accounts and unknown emails succeed silently.
func (a *Authority) ResendVerification(ctx context.Context, email string) error {
	user, err := a.repo.Users().GetByEmail(ctx, email)
	if err != nil {
		if goerrors.IsNotFound(err) {
			return nil
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user for verification resend")
	}

	if user.EmailVerified {
		return nil
	}

	return a.dispatchVerification(ctx, user, PurposeEmailVerify)
}

func (a *Authority) dispatchVerification(ctx context.Context, user *User, purpose ArtifactPurpose) error {
	artifact, err := a.dispatcher.CreateArtifact(ctx, user.ID, purpose)
	if err != nil {
		return err
	}

	if err := a.dispatcher.Send(ctx, user, artifact); err != nil {
		return err
	}

	a.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventVerificationSent,
		UserID:    user.ID.String(),
		Metadata:  map[string]any{"purpose": string(purpose)},
	})

	return nil
}

func (a *Authority) emitLoginFailure(ctx context.Context, userID, email string) {
	a.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventLoginFailure,
		UserID:    userID,
		Metadata:  map[string]any{"identifier": NormalizeEmail(email)},
	})
}

func (a *Authority) recordActivity(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = a.clock.Now()
	}

	sink := normalizeActivitySink(a.activitySink)
	if err := sink.Record(ctx, event); err != nil {
		a.logger.Warn("activity sink error: %v", err)
	}
}

package sessions

import (
	"context"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// Dispatcher creates verification artifacts and renders them into messages
// for the mail transport. Artifact creation and delivery are deliberately
// decoupled: a transport rejection leaves the artifact valid for a resend.
type Dispatcher struct {
	artifacts ArtifactStore
	mailer    Mailer
	clock     Clock
	logger    Logger
	baseURL   string
}

type DispatcherOption func(*Dispatcher)

// WithDispatcherClock injects a custom clock (useful for tests).
func WithDispatcherClock(clock Clock) DispatcherOption {
	return func(d *Dispatcher) {
		if clock != nil {
			d.clock = clock
		}
	}
}

// WithDispatcherLogger overrides the default logger.
func WithDispatcherLogger(logger Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithDispatcherBaseURL sets the base URL embedded in verification links.
func WithDispatcherBaseURL(baseURL string) DispatcherOption {
	return func(d *Dispatcher) {
		if baseURL != "" {
			d.baseURL = baseURL
		}
	}
}

func NewDispatcher(artifacts ArtifactStore, mailer Mailer, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		artifacts: artifacts,
		mailer:    mailer,
		clock:     SystemClock{},
		logger:    defLogger{},
		baseURL:   "http://localhost:3000",
	}

	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}

	return d
}

// CreateArtifact persists a fresh single-use artifact for the subject, with
// the expiry window that belongs to the purpose.
func (d *Dispatcher) CreateArtifact(ctx context.Context, subjectID uuid.UUID, purpose ArtifactPurpose) (*VerificationArtifact, error) {
	artifact := &VerificationArtifact{
		ID:        uuid.New(),
		UserID:    subjectID,
		Purpose:   purpose,
		ExpiresAt: d.clock.ExpiryAfter(LifetimeFor(purpose)),
	}

	created, err := d.artifacts.Create(ctx, artifact)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create verification artifact")
	}

	return created, nil
}

// Send renders the purpose-specific message and hands it to the transport.
// A rejection surfaces as ErrDeliveryFailed; the artifact is not touched.
func (d *Dispatcher) Send(ctx context.Context, user *User, artifact *VerificationArtifact) error {
	msg := d.render(user, artifact)

	if err := d.mailer.Deliver(ctx, msg); err != nil {
		d.logger.Error("verification mail rejected by transport",
			"to", user.Email,
			"purpose", artifact.Purpose,
			"error", err,
		)
		return goerrors.Wrap(err, ErrDeliveryFailed.Category, ErrDeliveryFailed.Message).
			WithTextCode(ErrDeliveryFailed.TextCode)
	}

	d.logger.Debug("verification mail dispatched", "to", user.Email, "purpose", artifact.Purpose)
	return nil
}

// Consume atomically spends the artifact and returns the bound subject ID.
func (d *Dispatcher) Consume(ctx context.Context, artifactID uuid.UUID) (uuid.UUID, error) {
	artifact, err := d.artifacts.Consume(ctx, artifactID, d.clock.Now())
	if err != nil {
		return uuid.Nil, err
	}

	return artifact.UserID, nil
}

func (d *Dispatcher) render(user *User, artifact *VerificationArtifact) Message {
	switch artifact.Purpose {
	case PurposePasswordReset:
		return Message{
			To:      user.Email,
			Subject: "Reset your password",
			Body: fmt.Sprintf(
				"Hello %s,\n\nFollow this link to choose a new password:\n%s/password-reset/%s\n\nThe link expires on %s.",
				user.Username,
				d.baseURL,
				artifact.ID,
				artifact.ExpiresAt.Format("Jan 2, 2006 15:04 MST"),
			),
		}
	default:
		return Message{
			To:      user.Email,
			Subject: "Confirm your email address",
			Body: fmt.Sprintf(
				"Hello %s,\n\nFollow this link to confirm your email address:\n%s/verify-email/%s\n\nThe link expires on %s.",
				user.Username,
				d.baseURL,
				artifact.ID,
				artifact.ExpiresAt.Format("Jan 2, 2006 15:04 MST"),
			),
		}
	}
}

package sessions

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Sessions is the bun-backed SessionStore.
type Sessions interface {
	SessionStore

	CreateTx(ctx context.Context, tx bun.IDB, record *Session, criteria ...repository.InsertCriteria) (*Session, error)
	RevokeTx(ctx context.Context, tx bun.IDB, id uuid.UUID, at time.Time) error
}

type sessionsRepo struct {
	repository.Repository[*Session]
	db *bun.DB
}

var (
	_ Sessions     = (*sessionsRepo)(nil)
	_ SessionStore = (*sessionsRepo)(nil)
)

func NewSessionsRepository(db *bun.DB) Sessions {
	repo := repository.NewRepository[*Session](db, repository.ModelHandlers[*Session]{
		NewRecord: func() *Session { return &Session{} },
		GetID: func(s *Session) uuid.UUID {
			if s == nil {
				return uuid.Nil
			}
			return s.ID
		},
		SetID: func(s *Session, id uuid.UUID) {
			if s != nil {
				s.ID = id
			}
		},
	})

	return &sessionsRepo{
		Repository: repo,
		db:         db,
	}
}

func (r *sessionsRepo) Create(ctx context.Context, record *Session) (*Session, error) {
	return r.CreateTx(ctx, r.db, record)
}

func (r *sessionsRepo) CreateTx(ctx context.Context, tx bun.IDB, record *Session, criteria ...repository.InsertCriteria) (*Session, error) {
	return r.Repository.CreateTx(ctx, tx, record, criteria...)
}

func (r *sessionsRepo) Get(ctx context.Context, id uuid.UUID) (*Session, error) {
	record := &Session{}
	err := r.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id.String()).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"id": id.String(),
				})
		}
		return nil, err
	}

	return record, nil
}

// Revoke is idempotent: revoking an unknown or already revoked session is a
// no-op, not an error.
func (r *sessionsRepo) Revoke(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.RevokeTx(ctx, r.db, id, at)
}

func (r *sessionsRepo) RevokeTx(ctx context.Context, tx bun.IDB, id uuid.UUID, at time.Time) error {
	_, err := tx.NewRaw(`
		UPDATE "sessions" AS "ses"
		SET
			"revoked" = TRUE,
			"revoked_at" = ?
		WHERE
			("ses".id = ?)
			AND "ses"."revoked" = FALSE;
	`, at, id.String()).Exec(ctx)

	return err
}

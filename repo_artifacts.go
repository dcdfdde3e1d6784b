package sessions

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// consumeArtifactSQL flips consumed exactly once: the consumed = FALSE guard
// makes concurrent consumption a single-winner race.
var consumeArtifactSQL = `UPDATE "verification_artifacts" AS "vfa"
SET
	"consumed" = TRUE,
	"consumed_at" = ?
WHERE
	"vfa"."id" = ?
AND "vfa"."consumed" = FALSE
RETURNING *;`

// Artifacts is the bun-backed ArtifactStore.
type Artifacts interface {
	ArtifactStore

	CreateTx(ctx context.Context, tx bun.IDB, record *VerificationArtifact, criteria ...repository.InsertCriteria) (*VerificationArtifact, error)
	ConsumeTx(ctx context.Context, tx bun.IDB, id uuid.UUID, now time.Time) (*VerificationArtifact, error)
}

type artifactsRepo struct {
	repository.Repository[*VerificationArtifact]
	db *bun.DB
}

var (
	_ Artifacts     = (*artifactsRepo)(nil)
	_ ArtifactStore = (*artifactsRepo)(nil)
)

func NewArtifactsRepository(db *bun.DB) Artifacts {
	repo := repository.NewRepository[*VerificationArtifact](db, repository.ModelHandlers[*VerificationArtifact]{
		NewRecord: func() *VerificationArtifact { return &VerificationArtifact{} },
		GetID: func(a *VerificationArtifact) uuid.UUID {
			if a == nil {
				return uuid.Nil
			}
			return a.ID
		},
		SetID: func(a *VerificationArtifact, id uuid.UUID) {
			if a != nil {
				a.ID = id
			}
		},
	})

	return &artifactsRepo{
		Repository: repo,
		db:         db,
	}
}

func (r *artifactsRepo) Create(ctx context.Context, record *VerificationArtifact) (*VerificationArtifact, error) {
	return r.CreateTx(ctx, r.db, record)
}

func (r *artifactsRepo) CreateTx(ctx context.Context, tx bun.IDB, record *VerificationArtifact, criteria ...repository.InsertCriteria) (*VerificationArtifact, error) {
	return r.Repository.CreateTx(ctx, tx, record, criteria...)
}

func (r *artifactsRepo) Get(ctx context.Context, id uuid.UUID) (*VerificationArtifact, error) {
	return r.getTx(ctx, r.db, id)
}

func (r *artifactsRepo) getTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*VerificationArtifact, error) {
	record := &VerificationArtifact{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id.String()).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrArtifactNotFound
		}
		return nil, err
	}

	return record, nil
}

// Consume flips consumed=true and returns the artifact, or reports why it
// could not: unknown, expired, or already consumed.
func (r *artifactsRepo) Consume(ctx context.Context, id uuid.UUID, now time.Time) (*VerificationArtifact, error) {
	return r.ConsumeTx(ctx, r.db, id, now)
}

func (r *artifactsRepo) ConsumeTx(ctx context.Context, tx bun.IDB, id uuid.UUID, now time.Time) (*VerificationArtifact, error) {
	// the pre-check must ride the same handle as the update: a caller's
	// open transaction may hold the pool's only connection
	record, err := r.getTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if record.Expired(now) {
		return nil, ErrArtifactExpired
	}

	if record.Consumed {
		return nil, ErrArtifactConsumed
	}

	res, err := r.Repository.RawTx(ctx, tx, consumeArtifactSQL, now, id.String())
	if err != nil {
		return nil, err
	}

	// lost the race to a concurrent consumer
	if len(res) == 0 {
		return nil, ErrArtifactConsumed
	}

	return res[0], nil
}

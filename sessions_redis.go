package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisSessionStore keeps refresh sessions in redis, keyed by session ID,
// with the key TTL aligned to the session expiry so storage hygiene comes
// for free. Validity is still decided by the record's own Revoked and
// ExpiresAt fields, never by key presence alone.
type RedisSessionStore struct {
	client    *redis.Client
	keyPrefix string
	clock     Clock
}

var _ SessionStore = (*RedisSessionStore)(nil)

type RedisSessionStoreOption func(*RedisSessionStore)

// WithRedisKeyPrefix overrides the default "session:" key prefix.
func WithRedisKeyPrefix(prefix string) RedisSessionStoreOption {
	return func(s *RedisSessionStore) {
		if prefix != "" {
			s.keyPrefix = prefix
		}
	}
}

// WithRedisClock injects a custom clock (useful for tests).
func WithRedisClock(clock Clock) RedisSessionStoreOption {
	return func(s *RedisSessionStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func NewRedisSessionStore(client *redis.Client, opts ...RedisSessionStoreOption) *RedisSessionStore {
	s := &RedisSessionStore{
		client:    client,
		keyPrefix: "session:",
		clock:     SystemClock{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	return s
}

func (s *RedisSessionStore) key(id uuid.UUID) string {
	return s.keyPrefix + id.String()
}

func (s *RedisSessionStore) Create(ctx context.Context, session *Session) (*Session, error) {
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}

	encoded, err := json.Marshal(session)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode session")
	}

	ttl := session.ExpiresAt.Sub(s.clock.Now())
	if ttl <= 0 {
		ttl = time.Second
	}

	if err := s.client.Set(ctx, s.key(session.ID), encoded, ttl).Err(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to store session")
	}

	return session, nil
}

func (s *RedisSessionStore) Get(ctx context.Context, id uuid.UUID) (*Session, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoActiveSession
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load session")
	}

	record := &Session{}
	if err := json.Unmarshal(data, record); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to decode session")
	}

	return record, nil
}

// Revoke marks the record revoked in place, keeping the remaining TTL so an
// attacker replaying the ID keeps seeing a revoked session rather than a
// missing one. Unknown sessions are a no-op.
func (s *RedisSessionStore) Revoke(ctx context.Context, id uuid.UUID, at time.Time) error {
	record, err := s.Get(ctx, id)
	if err != nil {
		if goerrors.Is(err, ErrNoActiveSession) {
			return nil
		}
		return err
	}

	if record.Revoked {
		return nil
	}

	record.Revoked = true
	record.RevokedAt = &at

	encoded, err := json.Marshal(record)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode session")
	}

	ttl := record.ExpiresAt.Sub(s.clock.Now())
	if ttl <= 0 {
		ttl = time.Second
	}

	if err := s.client.Set(ctx, s.key(id), encoded, ttl).Err(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to store session")
	}

	return nil
}

// Package redisstore keeps session revocation state in Redis so several
// access-server instances can share it.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goliatone/go-access"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "access:"

// Client is the subset of *redis.Client used by the store.
type Client interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	SAdd(ctx context.Context, key string, members ...any) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...any) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	ExpireAt(ctx context.Context, key string, tm time.Time) *redis.BoolCmd
}

// Store implements access.SessionStore. A session key lives until the
// session expires; each identity keeps a set of its session ids for RevokeAll.
type Store struct {
	client Client
	prefix string
	now    func() time.Time
}

var _ access.SessionStore = (*Store)(nil)

// Option customizes the store.
type Option func(*Store)

// WithPrefix overrides DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithClock injects a custom clock.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New returns a store over client.
func New(client Client, opts ...Option) *Store {
	s := &Store{
		client: client,
		prefix: DefaultPrefix,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Connect parses a redis:// URL and checks the server answers.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}

func (s *Store) Create(ctx context.Context, record *access.SessionRecord) error {
	ttl := record.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}

	if err := s.client.Set(ctx, s.sessionKey(record.ID), record.IdentityID, ttl).Err(); err != nil {
		return err
	}

	setKey := s.identityKey(record.IdentityID)
	if err := s.client.SAdd(ctx, setKey, record.ID.String()).Err(); err != nil {
		return err
	}
	return s.client.ExpireAt(ctx, setKey, record.ExpiresAt).Err()
}

func (s *Store) Active(ctx context.Context, id uuid.UUID) (string, error) {
	identityID, err := s.client.Get(ctx, s.sessionKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", access.NewTokenInvalidError()
		}
		return "", err
	}
	return identityID, nil
}

func (s *Store) Revoke(ctx context.Context, id uuid.UUID) error {
	key := s.sessionKey(id)
	identityID, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}

	if err := s.client.Del(ctx, key).Err(); err != nil {
		return err
	}
	return s.client.SRem(ctx, s.identityKey(identityID), id.String()).Err()
}

func (s *Store) RevokeAll(ctx context.Context, identityID string) error {
	setKey := s.identityKey(identityID)
	ids, err := s.client.SMembers(ctx, setKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, s.prefix+"session:"+id)
	}
	keys = append(keys, setKey)

	return s.client.Del(ctx, keys...).Err()
}

func (s *Store) sessionKey(id uuid.UUID) string {
	return s.prefix + "session:" + id.String()
}

func (s *Store) identityKey(identityID string) string {
	return s.prefix + "identity:" + identityID + ":sessions"
}

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces session keys in a shared Redis.
const DefaultKeyPrefix = "supplyflow:session:"

// RedisStore keeps sessions in Redis, relying on key TTLs for expiry.
type RedisStore struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
	clock  func() time.Time
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore builds a Redis-backed store. Blank prefix, non-positive ttl
// and nil clock fall back to defaults.
func NewRedisStore(client redis.Cmdable, prefix string, ttl time.Duration, clock func() time.Time) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clock == nil {
		clock = time.Now
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl, clock: clock}
}

func (r *RedisStore) key(id string) string {
	return r.prefix + id
}

// Get loads a live session.
func (r *RedisStore) Get(ctx context.Context, id string) (Session, error) {
	if r == nil || r.client == nil {
		return Session{}, errors.New("redis client is not configured")
	}
	id, err := normalizeID(id)
	if err != nil {
		return Session{}, err
	}
	raw, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("get session %s: %w", id, err)
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return Session{}, fmt.Errorf("decode session %s: %w", id, err)
	}
	if s.Expired(r.clock()) {
		return Session{}, ErrNotFound
	}
	return s, nil
}

// Put stores s with a key TTL matching its expiry. A session that is
// already expired is deleted instead.
func (r *RedisStore) Put(ctx context.Context, s Session) (Session, error) {
	if r == nil || r.client == nil {
		return Session{}, errors.New("redis client is not configured")
	}
	id, err := normalizeID(s.ID)
	if err != nil {
		return Session{}, err
	}
	s.ID = id
	now := r.clock()
	if s.ExpiresAt.IsZero() {
		s.ExpiresAt = now.Add(r.ttl)
	}
	ttl := s.ExpiresAt.Sub(now)
	if ttl <= 0 {
		return s, r.Delete(ctx, id)
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return Session{}, fmt.Errorf("encode session %s: %w", id, err)
	}
	if err := r.client.Set(ctx, r.key(id), raw, ttl).Err(); err != nil {
		return Session{}, fmt.Errorf("put session %s: %w", id, err)
	}
	return s, nil
}

// Delete removes a session.
func (r *RedisStore) Delete(ctx context.Context, id string) error {
	if r == nil || r.client == nil {
		return errors.New("redis client is not configured")
	}
	id, err := normalizeID(id)
	if err != nil {
		return err
	}
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "authz:session:"

// RedisStore implements Store backed by Redis. GETDEL makes consumption
// atomic across replicas of this service.
type RedisStore struct {
	client redis.UniversalClient
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore constructs a Redis-backed session store.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Save stores the encoded session payload with TTL.
func (s *RedisStore) Save(ctx context.Context, sess Session, ttl time.Duration) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.client.Set(ctx, buildKey(sess.State), payload, ttl).Err(); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

// Consume atomically loads and removes the session for state.
func (s *RedisStore) Consume(ctx context.Context, state string) (*Session, error) {
	bytes, err := s.client.GetDel(ctx, buildKey(state)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("consume session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(bytes, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

// Delete removes the persisted session key.
func (s *RedisStore) Delete(ctx context.Context, state string) error {
	if err := s.client.Del(ctx, buildKey(state)).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func buildKey(state string) string {
	return keyPrefix + state
}

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tagconsent/pkg/platform/sentinel"
)

const redisConsentKeyPrefix = "consent:visitor:"

// RedisStore persists consent records in Redis. Retention is enforced with
// the key TTL, so expired records simply disappear.
type RedisStore struct {
	client redis.Cmdable
}

// NewRedis constructs a Redis-backed consent store.
func NewRedis(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

// Get loads the raw record for a visitor.
//
// Errors: returns ErrNotFound on a miss; wraps Redis errors.
func (s *RedisStore) Get(ctx context.Context, visitorID string) ([]byte, error) {
	data, err := s.client.Get(ctx, consentKey(visitorID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get consent record: %w", err)
	}
	return data, nil
}

// Put overwrites the visitor's record and resets its TTL.
func (s *RedisStore) Put(ctx context.Context, visitorID string, payload []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, consentKey(visitorID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("put consent record: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, visitorID string) error {
	if err := s.client.Del(ctx, consentKey(visitorID)).Err(); err != nil {
		return fmt.Errorf("delete consent record: %w", err)
	}
	return nil
}

func consentKey(visitorID string) string {
	return redisConsentKeyPrefix + visitorID
}

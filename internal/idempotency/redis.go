package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix        = "idempotency:v1:"
	inProgressMarker = "__in_progress__"
)

// RedisStore keeps claims in Redis so every API instance shares them.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Reserve(ctx context.Context, key string, lease time.Duration) (bool, []byte, error) {
	cacheKey := keyPrefix + key
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := s.client.SetNX(ctx, cacheKey, inProgressMarker, lease).Result()
		if err != nil {
			return false, nil, err
		}
		if ok {
			return true, nil, nil
		}

		cached, err := s.client.Get(ctx, cacheKey).Bytes()
		if errors.Is(err, redis.Nil) {
			// expired between SETNX and GET
			continue
		}
		if err != nil {
			return false, nil, err
		}
		if string(cached) == inProgressMarker {
			return false, nil, ErrInProgress
		}
		return false, cached, nil
	}
	return false, nil, ErrInProgress
}

func (s *RedisStore) Save(ctx context.Context, key string, result []byte, ttl time.Duration) error {
	return s.client.Set(ctx, keyPrefix+key, result, ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, keyPrefix+key).Err()
}

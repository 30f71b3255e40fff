package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const idempotencyPending = "pending"

// IdempotencyStore remembers processed request keys in redis.
type IdempotencyStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewIdempotencyStore constructs the store. Keys expire after ttl.
func NewIdempotencyStore(client *redis.Client, ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyStore{client: client, ttl: ttl}
}

// ErrIdempotencyInFlight indicates the same key is still being processed.
var ErrIdempotencyInFlight = errors.New("idempotent request still in flight")

func idempotencyKey(module, key string) string {
	return fmt.Sprintf("idem:%s:%s", module, key)
}

// Begin reserves key for module. It returns the stored result reference when
// the key was already completed, or an empty string when the caller owns the
// reservation and must call Complete or Release.
func (s *IdempotencyStore) Begin(ctx context.Context, module, key string) (string, error) {
	if s == nil || s.client == nil {
		return "", errors.New("idempotency store not initialised")
	}
	if key == "" {
		return "", errors.New("idempotency key required")
	}
	if module == "" {
		return "", errors.New("idempotency module required")
	}
	redisKey := idempotencyKey(module, key)
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := s.client.SetNX(ctx, redisKey, idempotencyPending, s.ttl).Result()
		if err != nil {
			return "", err
		}
		if ok {
			return "", nil
		}
		ref, err := s.client.Get(ctx, redisKey).Result()
		if errors.Is(err, redis.Nil) {
			// expired between SETNX and GET
			continue
		}
		if err != nil {
			return "", err
		}
		if ref == idempotencyPending {
			return "", ErrIdempotencyInFlight
		}
		return ref, nil
	}
	return "", ErrIdempotencyInFlight
}

// Complete stores the result reference for a reserved key.
func (s *IdempotencyStore) Complete(ctx context.Context, module, key, ref string) error {
	if s == nil || s.client == nil {
		return nil
	}
	if ref == "" || ref == idempotencyPending {
		return errors.New("idempotency result reference required")
	}
	return s.client.Set(ctx, idempotencyKey(module, key), ref, s.ttl).Err()
}

// Release removes a key, typically used to roll back failed processing.
func (s *IdempotencyStore) Release(ctx context.Context, module, key string) error {
	if s == nil || s.client == nil {
		return nil
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	return s.client.Del(ctx, idempotencyKey(module, key)).Err()
}

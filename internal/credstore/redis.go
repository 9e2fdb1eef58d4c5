package credstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBackend stores the session document in Redis. Intended for headless
// deployments where several ambassador processes share one logical session;
// device binding should be disabled for such setups.
type RedisBackend struct {
	client redis.UniversalClient
	key    string
}

// Compile-time check to ensure RedisBackend implements Backend
var _ Backend = (*RedisBackend)(nil)

// NewRedisBackend creates a RedisBackend storing the document under the
// given key.
func NewRedisBackend(client redis.UniversalClient, key string) (*RedisBackend, error) {
	if client == nil {
		return nil, fmt.Errorf("missing redis client")
	}
	if key == "" {
		return nil, fmt.Errorf("key cannot be empty")
	}

	return &RedisBackend{
		client: client,
		key:    key,
	}, nil
}

// Read returns the stored document. Returns ErrNoSession if the key is absent.
func (r *RedisBackend) Read(ctx context.Context) ([]byte, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("reading session from redis: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty session document at key %s", r.key)
	}
	return data, nil
}

// Write persists the document. The key carries no TTL: token lifetime is
// tracked inside the document and enforced by the pipeline, not by Redis.
func (r *RedisBackend) Write(ctx context.Context, data []byte) error {
	if err := r.client.Set(ctx, r.key, data, 0).Err(); err != nil {
		return fmt.Errorf("writing session to redis: %w", err)
	}
	return nil
}

// Delete removes the key. A missing key is not an error.
func (r *RedisBackend) Delete(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("deleting session from redis: %w", err)
	}
	return nil
}

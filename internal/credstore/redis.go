package credstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	accessKey  = "consigna:auth:access_token"
	refreshKey = "consigna:auth:refresh_token"
)

// RedisStore keeps the credential pair in Redis. Both keys are written inside
// one MULTI/EXEC transaction so the pair replacement is atomic.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, addr, pass string, db int) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: pass,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: redis ping: %v", ErrStorage, err)
	}
	return &RedisStore{rdb: rdb}, nil
}

// NewRedisStoreFromClient wraps an existing client (used by tests with miniredis).
func NewRedisStoreFromClient(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Access(ctx context.Context) (string, error) {
	return s.get(ctx, accessKey)
}

func (s *RedisStore) Refresh(ctx context.Context) (string, error) {
	return s.get(ctx, refreshKey)
}

func (s *RedisStore) get(ctx context.Context, key string) (string, error) {
	val, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return val, nil
}

func (s *RedisStore) SetPair(ctx context.Context, access, refresh string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, accessKey, access, 0)
	pipe.Set(ctx, refreshKey, refresh, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.rdb.Del(ctx, accessKey, refreshKey).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

// Close releases the underlying Redis connection.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

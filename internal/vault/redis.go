package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gonkalabs/ragguard/internal/sanitize"
)

const redisKeyPrefix = "ragguard:mapping:"

// RedisStore keeps sessions as JSON strings with a TTL.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisStore connects to addr and checks the connection.
func NewRedisStore(ctx context.Context, addr string, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("vault: redis %s: %w", addr, err)
	}
	return &RedisStore{client: client, ttl: ttl}, nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Save(ctx context.Context, m sanitize.Mapping) (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("vault: encode: %w", err)
	}
	id := NewID()
	if err := s.client.Set(ctx, redisKeyPrefix+id, b, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("vault: redis set: %w", err)
	}
	return id, nil
}

func (s *RedisStore) Load(ctx context.Context, id string) (sanitize.Mapping, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	b, err := s.client.Get(ctx, redisKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("vault: redis get: %w", err)
	}
	var m sanitize.Mapping
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("vault: decode %s: %w", id, err)
	}
	return m, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if validID(id) != nil {
		return nil
	}
	if err := s.client.Del(ctx, redisKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("vault: redis del: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *RedisStore) Close() error { return s.client.Close() }

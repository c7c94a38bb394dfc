// Package session stores authentication contexts in Redis.
//
// The sync engine only ever reads a point-in-time snapshot of the auth
// context: changing the stored context mid-edit does not retarget sessions
// that are already open.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNoSession is returned when a token has no live auth context.
var ErrNoSession = errors.New("session not found or expired")

// DefaultTTL bounds how long an idle auth context survives.
const DefaultTTL = 30 * 24 * time.Hour

// AuthContext is the identity snapshot attached to an API token.
type AuthContext struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	ProfileType string    `json:"profile_type"`
	CreatedAt   time.Time `json:"created_at"`
}

// RedisStore keeps auth contexts in Redis keyed by token hash.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to Redis at redisURL and verifies the connection.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient wraps an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "authctx:",
		ttl:    DefaultTTL,
	}
}

func (s *RedisStore) key(tokenHash string) string {
	return s.prefix + tokenHash
}

// Save stores the auth context under tokenHash until expiresAt.
func (s *RedisStore) Save(ctx context.Context, tokenHash string, ac AuthContext, expiresAt time.Time) error {
	if ac.CreatedAt.IsZero() {
		ac.CreatedAt = time.Now()
	}
	data, err := json.Marshal(ac)
	if err != nil {
		return fmt.Errorf("marshal auth context: %w", err)
	}

	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		ttl = s.ttl
	}

	if err := s.client.Set(ctx, s.key(tokenHash), data, ttl).Err(); err != nil {
		return fmt.Errorf("save auth context: %w", err)
	}
	return nil
}

// Lookup returns the auth context for a token hash, or ErrNoSession.
func (s *RedisStore) Lookup(ctx context.Context, tokenHash string) (AuthContext, error) {
	data, err := s.client.Get(ctx, s.key(tokenHash)).Result()
	if err == redis.Nil {
		return AuthContext{}, ErrNoSession
	}
	if err != nil {
		return AuthContext{}, fmt.Errorf("lookup auth context: %w", err)
	}

	var ac AuthContext
	if err := json.Unmarshal([]byte(data), &ac); err != nil {
		return AuthContext{}, fmt.Errorf("unmarshal auth context: %w", err)
	}
	if ac.ProfileType == "" {
		ac.ProfileType = "candidate"
	}
	return ac, nil
}

// Revoke removes the auth context for a token hash.
func (s *RedisStore) Revoke(ctx context.Context, tokenHash string) error {
	if err := s.client.Del(ctx, s.key(tokenHash)).Err(); err != nil {
		return fmt.Errorf("revoke auth context: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

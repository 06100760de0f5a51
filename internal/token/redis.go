package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisTokenPrefix = "prettydl:refresh:"
	redisUserPrefix  = "prettydl:refresh_user:"
)

// RedisStore keeps refresh tokens in Redis so sessions survive restarts and
// can be shared between instances. Each token is a hash that Redis expires
// on its own; a per-user set indexes tokens for bulk revocation.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Put(ctx context.Context, token string, e RefreshEntry) error {
	key := redisTokenPrefix + token
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "username", e.Username, "expires_at", e.ExpiresAt.UTC().Format(time.RFC3339Nano))
		pipe.ExpireAt(ctx, key, e.ExpiresAt)
		pipe.SAdd(ctx, redisUserPrefix+e.Username, token)
		return nil
	})
	if err != nil {
		return fmt.Errorf("storing refresh token: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, token string) (RefreshEntry, bool, error) {
	fields, err := s.client.HGetAll(ctx, redisTokenPrefix+token).Result()
	if err != nil {
		return RefreshEntry{}, false, fmt.Errorf("loading refresh token: %w", err)
	}
	if len(fields) == 0 {
		return RefreshEntry{}, false, nil
	}

	expiresAt, err := time.Parse(time.RFC3339Nano, fields["expires_at"])
	if err != nil {
		return RefreshEntry{}, false, fmt.Errorf("parsing refresh token expiry: %w", err)
	}
	return RefreshEntry{Username: fields["username"], ExpiresAt: expiresAt}, true, nil
}

func (s *RedisStore) Delete(ctx context.Context, token string) error {
	key := redisTokenPrefix + token
	username, err := s.client.HGet(ctx, key, "username").Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading refresh token: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.SRem(ctx, redisUserPrefix+username, token)
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting refresh token: %w", err)
	}
	return nil
}

func (s *RedisStore) DeleteUser(ctx context.Context, username string) error {
	userKey := redisUserPrefix + username
	tokens, err := s.client.SMembers(ctx, userKey).Result()
	if err != nil {
		return fmt.Errorf("listing refresh tokens for %s: %w", username, err)
	}

	keys := make([]string, 0, len(tokens)+1)
	for _, tok := range tokens {
		keys = append(keys, redisTokenPrefix+tok)
	}
	keys = append(keys, userKey)

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("revoking refresh tokens for %s: %w", username, err)
	}
	return nil
}

// DeleteExpired prunes index entries whose token hash Redis has already
// expired. The token hashes themselves are expired by Redis.
func (s *RedisStore) DeleteExpired(ctx context.Context, _ time.Time) (int, error) {
	removed := 0
	iter := s.client.Scan(ctx, 0, redisUserPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		userKey := iter.Val()
		tokens, err := s.client.SMembers(ctx, userKey).Result()
		if err != nil {
			return removed, fmt.Errorf("listing %s: %w", userKey, err)
		}

		for _, tok := range tokens {
			n, err := s.client.Exists(ctx, redisTokenPrefix+tok).Result()
			if err != nil {
				return removed, fmt.Errorf("checking refresh token: %w", err)
			}
			if n > 0 {
				continue
			}
			if err := s.client.SRem(ctx, userKey, tok).Err(); err != nil {
				return removed, fmt.Errorf("pruning %s: %w", userKey, err)
			}
			removed++
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("scanning refresh token index: %w", err)
	}
	return removed, nil
}

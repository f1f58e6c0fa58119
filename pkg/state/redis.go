package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const redisKeyPrefix = "sso:state:"

// RedisStore keeps state entries in Redis so any instance behind a load
// balancer can consume a callback. Single-use is enforced with GETDEL and
// expiry with the key TTL, so no sweep is needed.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed store with the given TTL. Zero
// means DefaultTTL.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

// Issue mints a token and stores its entry under the key TTL.
func (s *RedisStore) Issue(ctx context.Context, provider string, loginContext map[string]string, codeVerifier string) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}

	entry := &Entry{
		Token:        token,
		Provider:     provider,
		Context:      loginContext,
		CodeVerifier: codeVerifier,
		ExpiresAt:    time.Now().Add(s.ttl),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("failed to marshal state entry: %w", err)
	}

	if err := s.client.Set(ctx, redisKeyPrefix+token, data, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("redis set failed: %w", err)
	}
	return token, nil
}

// VerifyAndConsume removes and returns the entry in one GETDEL round trip.
func (s *RedisStore) VerifyAndConsume(ctx context.Context, token string) (*Entry, error) {
	data, err := s.client.GetDel(ctx, redisKeyPrefix+token).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("redis getdel failed: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state entry: %w", err)
	}

	// Redis TTL already bounds the key lifetime; the timestamp check only
	// guards against clock skew between writer and reader.
	if time.Now().After(entry.ExpiresAt) {
		return nil, ErrNotFound
	}
	return &entry, nil
}

package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Revoker records revoked session ids.
type Revoker interface {
	Revoke(ctx context.Context, sessionID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, sessionID string) (bool, error)
}

// RedisRevoker keeps one key per revoked session, expiring together with
// the token it blocks, so the set never grows past the live token window.
type RedisRevoker struct {
	client *redis.Client
	prefix string
}

var _ Revoker = (*RedisRevoker)(nil)

// NewRedisRevoker returns a revoker storing keys under prefix (default
// "identity:revoked:"). The client is owned by the caller.
func NewRedisRevoker(client *redis.Client, prefix string) *RedisRevoker {
	if prefix == "" {
		prefix = "identity:revoked:"
	}
	return &RedisRevoker{client: client, prefix: prefix}
}

func (r *RedisRevoker) key(sessionID string) string {
	return r.prefix + sessionID
}

func (r *RedisRevoker) Revoke(ctx context.Context, sessionID string, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.key(sessionID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("redis: revoking session %s: %w", sessionID, err)
	}
	return nil
}

func (r *RedisRevoker) IsRevoked(ctx context.Context, sessionID string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis: checking session %s: %w", sessionID, err)
	}
	return n > 0, nil
}

// Ping reports whether Redis is reachable. Used by /readyz.
func (r *RedisRevoker) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

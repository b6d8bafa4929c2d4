package token

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RevocationRegistry tracks explicitly invalidated tokens until their natural
// expiry elapses. An Invalidate observed by one request must be visible to a
// Validate on a concurrently handled request.
type RevocationRegistry interface {
	Revoke(ctx context.Context, id string, ttl time.Duration) error
	IsRevoked(ctx context.Context, id string) (bool, error)
}

const revokedKeyPrefix = "hm:token:revoked:"

// RedisRegistry stores revoked token identifiers in redis. Keys carry a TTL
// equal to the token's remaining lifetime, so pruning is automatic: once the
// token would have expired anyway, the entry disappears.
type RedisRegistry struct {
	client *redis.Client
}

// NewRedisRegistry constructs a redis backed registry.
func NewRedisRegistry(client *redis.Client) *RedisRegistry {
	return &RedisRegistry{client: client}
}

// Revoke marks the identifier as revoked for the given remaining lifetime.
// Revoking twice is not an error.
func (r *RedisRegistry) Revoke(ctx context.Context, id string, ttl time.Duration) error {
	if ttl <= 0 {
		// The token is already expired; validation rejects it either way.
		return nil
	}
	return r.client.Set(ctx, revokedKeyPrefix+id, time.Now().UTC().Unix(), ttl).Err()
}

// IsRevoked reports whether the identifier is present in the registry.
func (r *RedisRegistry) IsRevoked(ctx context.Context, id string) (bool, error) {
	n, err := r.client.Exists(ctx, revokedKeyPrefix+id).Result()
	if err != nil {
		return false, fmt.Errorf("revocation lookup: %w", err)
	}
	return n > 0, nil
}

var _ RevocationRegistry = (*RedisRegistry)(nil)

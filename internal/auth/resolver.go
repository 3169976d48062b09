// Package auth resolves connection-establishment credentials to user
// identities. Resolution runs before any other intent is accepted on a
// connection; a failed resolution means the connection is never upgraded.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/tradepost/chat-service/internal/chat"
)

// TokenPrefix is the Redis key prefix under which the authentication
// authority publishes bearer tokens: auth:token:<token> -> user ID.
const TokenPrefix = "auth:token:"

// Resolver exchanges an opaque bearer credential for a user identity. A
// bad or missing credential fails with chat.ErrUnauthenticated.
type Resolver interface {
	Resolve(ctx context.Context, credential string) (string, error)
}

// RedisResolver resolves credentials against token keys in Redis, where the
// authentication authority maintains them.
type RedisResolver struct {
	rdb *redis.Client
}

// NewRedisResolver creates a RedisResolver using the given client.
func NewRedisResolver(rdb *redis.Client) *RedisResolver {
	return &RedisResolver{rdb: rdb}
}

// Resolve looks up the credential and returns the mapped user ID.
func (r *RedisResolver) Resolve(ctx context.Context, credential string) (string, error) {
	if credential == "" {
		return "", chat.ErrUnauthenticated
	}

	userID, err := r.rdb.Get(ctx, TokenPrefix+credential).Result()
	if errors.Is(err, redis.Nil) {
		return "", chat.ErrUnauthenticated
	}
	if err != nil {
		return "", fmt.Errorf("auth: token lookup: %w", err)
	}
	if userID == "" {
		return "", chat.ErrUnauthenticated
	}
	return userID, nil
}

// StaticResolver resolves credentials from a fixed token -> user ID map.
// Intended for local development and tests.
type StaticResolver map[string]string

// Resolve implements Resolver.
func (r StaticResolver) Resolve(_ context.Context, credential string) (string, error) {
	userID, ok := r[credential]
	if !ok || userID == "" {
		return "", chat.ErrUnauthenticated
	}
	return userID, nil
}

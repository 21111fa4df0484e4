// Package identity resolves connection credentials to user ids. Tokens are
// minted by the onboarding service and stored in Redis; this package only
// looks them up.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// TokenPrefix namespaces auth tokens in Redis.
const TokenPrefix = "auth:token:"

// ErrInvalidCredential is returned for unknown or expired tokens.
var ErrInvalidCredential = errors.New("identity: invalid credential")

// Verifier resolves a credential to a user id.
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// RedisVerifier looks tokens up in Redis. The token's TTL is managed by the
// onboarding service; an expired key reads the same as an unknown one.
type RedisVerifier struct {
	client *redis.Client
}

// NewRedisVerifier creates a verifier over the given Redis client.
func NewRedisVerifier(client *redis.Client) *RedisVerifier {
	return &RedisVerifier{client: client}
}

// Verify returns the user id the token belongs to, or ErrInvalidCredential.
func (v *RedisVerifier) Verify(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrInvalidCredential
	}

	userID, err := v.client.Get(ctx, TokenPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrInvalidCredential
	}
	if err != nil {
		return "", fmt.Errorf("identity: lookup token: %w", err)
	}
	return userID, nil
}

// StaticVerifier maps tokens to user ids from a fixed table. Used in tests
// and local development.
type StaticVerifier map[string]string

// Verify returns the mapped user id, or ErrInvalidCredential.
func (v StaticVerifier) Verify(ctx context.Context, token string) (string, error) {
	userID, ok := v[token]
	if !ok {
		return "", ErrInvalidCredential
	}
	return userID, nil
}

package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	// M2MTokenKey is the key used to store the M2M token in Redis
	M2MTokenKey = "ms-ledger:m2m_token"
	// TokenExpiryBuffer is how long before expiry a token stops being served
	TokenExpiryBuffer = 60 * time.Second
)

// TokenCache represents a cached token with its expiry time
type TokenCache struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsValid reports whether the token outlives the refresh buffer
func (tc *TokenCache) IsValid() bool {
	if tc == nil || tc.Token == "" {
		return false
	}
	return time.Now().Add(TokenExpiryBuffer).Before(tc.ExpiresAt)
}

// RedisTokenCache shares the M2M token between replicas
type RedisTokenCache struct {
	Client *redis.Client
}

// NewRedisTokenCache wraps an existing client; it does not own or close it.
func NewRedisTokenCache(client *redis.Client) *RedisTokenCache {
	return &RedisTokenCache{Client: client}
}

// GetToken returns the cached token, or nil when there is none still valid
func (c *RedisTokenCache) GetToken(ctx context.Context) (*TokenCache, error) {
	if c.Client == nil {
		return nil, fmt.Errorf("redis client not initialized")
	}

	// A missing key is a cache miss, not an error
	tokenJSON, err := c.Client.Get(ctx, M2MTokenKey).Result()
	if err == redis.Nil {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to get token from Redis: %w", err)
	}

	var tokenCache TokenCache
	if err := json.Unmarshal([]byte(tokenJSON), &tokenCache); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token cache: %w", err)
	}
	// Treat tokens inside the expiry buffer as absent so the caller refreshes early
	if !tokenCache.IsValid() {
		return nil, nil
	}
	return &tokenCache, nil
}

// SetToken stores a token until its expiry
func (c *RedisTokenCache) SetToken(ctx context.Context, token string, expiresAt time.Time) error {
	if c.Client == nil {
		return fmt.Errorf("redis client not initialized")
	}

	tokenJSON, err := json.Marshal(&TokenCache{Token: token, ExpiresAt: expiresAt})
	if err != nil {
		return fmt.Errorf("failed to marshal token cache: %w", err)
	}

	// Redis drops the key when the token dies; an already expired token is not stored
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := c.Client.Set(ctx, M2MTokenKey, tokenJSON, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store token in Redis: %w", err)
	}
	return nil
}

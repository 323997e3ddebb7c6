package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ms-ledger/internal/logger"
	"ms-ledger/internal/models"
)

// M2MClient obtains client-credentials tokens from Keycloak for calls to
// other services, reusing a cached token while it is valid.
type M2MClient struct {
	cfg    models.M2MConfig
	client *http.Client
	cache  *RedisTokenCache
	logger *logger.Logger
}

func NewM2MClient(cfg models.M2MConfig, client *http.Client, cache *RedisTokenCache, log *logger.Logger) *M2MClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &M2MClient{cfg: cfg, client: client, cache: cache, logger: log}
}

// Token returns a valid access token.
func (m *M2MClient) Token(ctx context.Context) (string, error) {
	if m.cache != nil {
		cached, err := m.cache.GetToken(ctx)
		if err != nil {
			m.logger.Warn("AUTH", fmt.Sprintf("Token cache unavailable: %v", err))
		} else if cached != nil {
			return cached.Token, nil
		}
	}

	tokenResp, err := m.fetch(ctx)
	if err != nil {
		return "", err
	}

	expiresAt := time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	if tokenResp.ExpiresIn <= 0 {
		if exp, err := TokenExpiry(tokenResp.AccessToken); err == nil {
			expiresAt = exp
		}
	}

	if m.cache != nil {
		if err := m.cache.SetToken(ctx, tokenResp.AccessToken, expiresAt); err != nil {
			m.logger.Warn("AUTH", fmt.Sprintf("Failed to cache M2M token: %v", err))
		}
	}
	return tokenResp.AccessToken, nil
}

func (m *M2MClient) fetch(ctx context.Context) (*models.M2MTokenResponse, error) {
	tokenURL := fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", strings.TrimRight(m.cfg.KeycloakURL, "/"), m.cfg.KeycloakRealm)
	m.logger.Debug("AUTH", fmt.Sprintf("Requesting M2M token from: %s", tokenURL))

	data := url.Values{}
	data.Set("grant_type", "client_credentials")
	data.Set("client_id", m.cfg.ClientID)
	data.Set("client_secret", m.cfg.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Add("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		m.logger.Error("AUTH", fmt.Sprintf("Keycloak token response %s: %s", resp.Status, string(bodyBytes)))
		return nil, fmt.Errorf("failed to get token, status: %s", resp.Status)
	}

	var tokenResp models.M2MTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("token response has no access_token")
	}
	return &tokenResp, nil
}

package floor

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

// TokenSource supplies the bearer token for service-to-service calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client reads floor elements from the floor-plan service.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	logger  *logger.Logger
}

func NewClient(baseURL string, timeout time.Duration, tokens TokenSource, log *logger.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		tokens:  tokens,
		logger:  log,
	}
}

// Element fetches one element; ErrElementNotFound when the service has none.
func (c *Client) Element(ctx context.Context, eventID, elementID string) (*models.FloorElement, error) {
	path := fmt.Sprintf("/api/events/%s/floor/elements/%s", url.PathEscape(eventID), url.PathEscape(elementID))
	var element models.FloorElement
	if err := c.get(ctx, path, &element); err != nil {
		return nil, err
	}
	if element.EventID == "" {
		element.EventID = eventID
	}
	return &element, nil
}

func (c *Client) ElementExists(ctx context.Context, eventID, elementID string) (bool, error) {
	_, err := c.Element(ctx, eventID, elementID)
	if err == models.ErrElementNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *Client) ElementType(ctx context.Context, eventID, elementID string) (models.ElementType, error) {
	element, err := c.Element(ctx, eventID, elementID)
	if err != nil {
		return "", err
	}
	return element.Type, nil
}

func (c *Client) ListElementIDs(ctx context.Context, eventID string) ([]string, error) {
	var elements []models.FloorElement
	if err := c.get(ctx, fmt.Sprintf("/api/events/%s/floor/elements", url.PathEscape(eventID)), &elements); err != nil {
		if err == models.ErrElementNotFound {
			return []string{}, nil
		}
		return nil, err
	}
	ids := make([]string, 0, len(elements))
	for _, e := range elements {
		ids = append(ids, e.ID)
	}
	return ids, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("failed to get service token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("floor service request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return models.ErrElementNotFound
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Error("FLOOR", fmt.Sprintf("GET %s returned %s: %s", path, resp.Status, string(body)))
		return fmt.Errorf("floor service returned %s", resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode floor service response: %w", err)
	}
	return nil
}

// Package kook provides the REST client and wire types for the KOOK open
// platform.
package kook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://www.kookapp.cn/api/v3"

// Client talks to the KOOK REST API. Every request passes through a
// per-client limiter that spaces calls 200ms apart, so one busy feed
// cannot starve the token's rate budget.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient creates a REST client authenticated with the given bot token.
func NewClient(token string) *Client {
	return NewClientWithBaseURL(token, defaultBaseURL)
}

// NewClientWithBaseURL creates a REST client that targets a custom API base
// URL. Useful for testing with a mock server.
func NewClientWithBaseURL(token, baseURL string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		token:      token,
		limiter:    rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
		logger:     slog.Default().With("component", "kook-client"),
	}
}

// Gateway asks the API for a fresh websocket gateway URL.
func (c *Client) Gateway(ctx context.Context) (string, error) {
	var data struct {
		URL string `json:"url"`
	}
	if err := c.do(ctx, http.MethodGet, "/gateway/index", nil, &data); err != nil {
		return "", fmt.Errorf("request gateway url: %w", err)
	}
	if data.URL == "" {
		return "", fmt.Errorf("gateway response carried no url")
	}
	return data.URL, nil
}

// SendMessage posts a message to a channel.
func (c *Client) SendMessage(ctx context.Context, msg *MessageCreate) error {
	if err := c.do(ctx, http.MethodPost, "/message/create", msg, nil); err != nil {
		return fmt.Errorf("send message to %s: %w", msg.TargetID, err)
	}
	return nil
}

// Me returns the bot's own user object.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var user User
	if err := c.do(ctx, http.MethodGet, "/user/me", nil, &user); err != nil {
		return nil, fmt.Errorf("request own user: %w", err)
	}
	return &user, nil
}

// envelope is the wrapper every REST response arrives in.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	// 1. Space requests out before touching the network.
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for request slot: %w", err)
	}

	// 2. Build the request.
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	// 3. Execute and decode the envelope.
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("kook api returned HTTP %d for %s", resp.StatusCode, path)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response envelope: %w", err)
	}
	if env.Code != CodeOK {
		return &APIError{Code: env.Code, Message: env.Message}
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode response data: %w", err)
		}
	}
	return nil
}

// Package httpclient is a Go client for the pairlink admin HTTP API.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
)

var (
	// ErrNotAuthenticated is returned by calls that need a token before Authenticate
	ErrNotAuthenticated = errors.New("client not authenticated - call Authenticate() first")
)

// Client provides HTTP client for the pairlink admin API
type Client struct {
	config     Config
	httpClient *http.Client
	// streamClient has no overall timeout
	streamClient *http.Client
	token        string
	baseURL      *url.URL
}

// NewClient creates a new admin API client
func NewClient(config Config) (*Client, error) {
	config.SetDefaults()

	if config.ServerURL == "" {
		return nil, errors.New("ServerURL is required")
	}
	if config.ClientID == "" && config.Token == "" {
		return nil, errors.New("ClientID is required")
	}

	baseURL, err := url.Parse(config.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ServerURL: %w", err)
	}

	return &Client{
		config:       config,
		httpClient:   &http.Client{Timeout: config.Timeout},
		streamClient: &http.Client{},
		token:        config.Token,
		baseURL:      baseURL,
	}, nil
}

// Authenticate logs in with the configured client id and login secret and stores the token
func (c *Client) Authenticate(ctx context.Context) (*AuthResponse, error) {
	var authResp AuthResponse
	err := c.doRequest(ctx, http.MethodPost, "/api/v1/auth/login", nil, map[string]string{
		"clientId": c.config.ClientID,
		"secret":   c.config.Secret,
	}, &authResp, false)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	c.token = authResp.Token
	return &authResp, nil
}

// Health returns the node health. An unhealthy node answers 503 with a body,
// which is returned without error.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	err := c.doRequest(ctx, http.MethodGet, "/api/v1/health", nil, nil, &resp, false, http.StatusServiceUnavailable)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Send sends a message to the peer. A down link is reported as Sent=false, not as an error.
func (c *Client) Send(ctx context.Context, req SendRequest) (*SendResponse, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}

	var resp SendResponse
	err := c.doRequest(ctx, http.MethodPost, "/api/v1/messages", nil, req, &resp, true, http.StatusServiceUnavailable)
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}
	return &resp, nil
}

// Events returns the latest journal entries; requires an admin token
func (c *Client) Events(ctx context.Context, limit int) (*EventsResponse, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}

	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var resp EventsResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/admin/events", query, nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	return &resp, nil
}

// doRequest performs an HTTP request. Statuses >= 400 are errors unless listed in accept,
// in which case the body is decoded like a success.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, reqBody, respBody any, requireAuth bool, accept ...int) error {
	u := c.baseURL.ResolveReference(&url.URL{Path: path, RawQuery: query.Encode()})

	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requireAuth && c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 && !slices.Contains(accept, resp.StatusCode) {
		return apiError(resp.StatusCode, bodyBytes)
	}

	if respBody != nil {
		if err := json.Unmarshal(bodyBytes, respBody); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

func apiError(status int, body []byte) error {
	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Message == "" {
		return &APIError{StatusCode: status, Message: string(bytes.TrimSpace(body))}
	}
	return &APIError{StatusCode: status, Message: errResp.Message}
}

// IsAuthenticated returns whether the client has a token
func (c *Client) IsAuthenticated() bool {
	return c.token != ""
}

// GetToken returns the current authentication token
func (c *Client) GetToken() string {
	return c.token
}

// SetToken sets the authentication token (useful for testing or token reuse)
func (c *Client) SetToken(token string) {
	c.token = token
}

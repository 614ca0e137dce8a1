package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Client talks to a rathole-mgmt daemon over its HTTP API.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration.
type Config struct {
	// BaseURL includes the API base path, e.g. http://localhost:8080/api.
	BaseURL string
	// Token is the bearer token sent on every request; empty sends none.
	Token   string
	Timeout time.Duration
	Logger  *slog.Logger
}

// DefaultConfig returns the client configuration matching the daemon
// defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8080/api",
		Timeout: 10 * time.Second,
	}
}

// New creates an API client.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:8080/api"
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: config.BaseURL,
		token:   config.Token,
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// SetToken replaces the bearer token used on subsequent requests.
func (c *Client) SetToken(token string) { c.token = token }

// IsReachable checks whether the daemon answers on its status route.
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return false
	}
	c.authorize(req)
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode != http.StatusNotFound
}

// Login exchanges credentials for a bearer token and keeps it on the
// client for subsequent calls.
func (c *Client) Login(ctx context.Context, username, password string) (*Token, error) {
	body := map[string]string{"username": username, "password": password}
	var tok Token
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/auth/login", body, &tok); err != nil {
		return nil, err
	}
	c.token = tok.Value
	return &tok, nil
}

// ChangePassword updates a password. An empty username means the account
// the current token belongs to.
func (c *Client) ChangePassword(ctx context.Context, username, password string) error {
	body := map[string]string{"password": password}
	if username != "" {
		body["username"] = username
	}
	return c.doJSON(ctx, http.MethodPost, c.baseURL+"/auth/password", body, nil)
}

// AddService registers a tunnel service and returns the stored
// definition, including the generated token when none was supplied.
func (c *Client) AddService(ctx context.Context, svc Service) (*Service, error) {
	var added Service
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/add", svc, &added); err != nil {
		return nil, err
	}
	return &added, nil
}

// UpdateService patches an existing service definition.
func (c *Client) UpdateService(ctx context.Context, name string, patch ServicePatch) (*Service, error) {
	var updated Service
	u := c.baseURL + "/update?name=" + url.QueryEscape(name)
	if err := c.doJSON(ctx, http.MethodPost, u, patch, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// RemoveService deletes a service, stopping its process first when live.
func (c *Client) RemoveService(ctx context.Context, name string) error {
	return c.doJSON(ctx, http.MethodPost, c.baseURL+"/remove?name="+url.QueryEscape(name), nil, nil)
}

// StartService starts the named service's tunnel process.
func (c *Client) StartService(ctx context.Context, name string) error {
	return c.doJSON(ctx, http.MethodPost, c.baseURL+"/start?name="+url.QueryEscape(name), nil, nil)
}

// StopService stops the named client-side service's tunnel process.
func (c *Client) StopService(ctx context.Context, name string) error {
	return c.doJSON(ctx, http.MethodPost, c.baseURL+"/stop?name="+url.QueryEscape(name), nil, nil)
}

// ListServices returns every service with its live process facts.
func (c *Client) ListServices(ctx context.Context) ([]ServiceStatus, error) {
	var list []ServiceStatus
	if err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/status", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// ServiceStatus returns one service with its live process facts.
func (c *Client) ServiceStatus(ctx context.Context, name string) (*ServiceStatus, error) {
	var st ServiceStatus
	u := c.baseURL + "/status?name=" + url.QueryEscape(name)
	if err := c.doJSON(ctx, http.MethodGet, u, nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// ServerStatus returns the shared server process status.
func (c *Client) ServerStatus(ctx context.Context) (*ServerStatus, error) {
	var st ServerStatus
	if err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/server/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// StartServer starts the shared server process.
func (c *Client) StartServer(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, c.baseURL+"/server/start", nil, nil)
}

// RestartServer stops and relaunches the shared server with a freshly
// rendered config.
func (c *Client) RestartServer(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, c.baseURL+"/server/restart", nil, nil)
}

// StopServer stops the shared server process.
func (c *Client) StopServer(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, c.baseURL+"/server/stop", nil, nil)
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// doJSON performs a request with an optional JSON body and decodes a
// non-error response into out when out is non-nil.
func (c *Client) doJSON(ctx context.Context, method, url string, body, out any) error {
	var rdr *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rdr = bytes.NewReader(data)
	} else {
		rdr = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("request failed", "url", url, "error", err)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		var errResp ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil || errResp.Error == "" {
			return fmt.Errorf("HTTP %d", resp.StatusCode)
		}
		return fmt.Errorf("API error: %s", errResp.Error)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

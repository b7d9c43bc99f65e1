// Package vcs persists contact records as files on a GitHub repository
// through a branch and pull-request workflow.
package vcs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"intake/internal/platform/config"
	dErrors "intake/pkg/domain-errors"
	"intake/pkg/platform/sentinel"
)

const (
	adapterName    = "github"
	defaultTimeout = 30 * time.Second
	apiVersion     = "2022-11-28"

	// maxErrorBody bounds how much of a remote error body is kept for logs.
	maxErrorBody = 4 << 10
)

// Client talks to the GitHub REST API for one repository.
type Client struct {
	baseURL       string
	owner         string
	repo          string
	org           bool
	defaultBranch string
	httpClient    *http.Client
	auth          authenticator
	logger        *slog.Logger
	now           func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client. Tests point it at an httptest server.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the logger used for warnings and compensation failures.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock fixes the clock used for branch names and app token expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// New builds a Client from configuration. GitHub App credentials take
// precedence over a personal token when both are present.
func New(cfg config.GitHub, opts ...Option) (*Client, error) {
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, fmt.Errorf("github owner and repo are required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		owner:         cfg.Owner,
		repo:          cfg.Repo,
		org:           cfg.Org,
		defaultBranch: cfg.DefaultBranch,
		httpClient:    &http.Client{Timeout: timeout},
		logger:        slog.Default(),
		now:           time.Now,
	}
	if c.baseURL == "" {
		c.baseURL = "https://api.github.com"
	}
	if c.defaultBranch == "" {
		c.defaultBranch = "main"
	}
	for _, opt := range opts {
		opt(c)
	}

	switch {
	case cfg.UsesGitHubApp():
		app, err := newAppAuth(c, cfg.AppID, cfg.InstallationID, cfg.PrivateKeyPEM)
		if err != nil {
			return nil, err
		}
		c.auth = app
	case cfg.Token != "":
		c.auth = tokenAuth(cfg.Token)
	default:
		return nil, fmt.Errorf("github token or app credentials are required")
	}
	return c, nil
}

// apiError is GitHub's error envelope.
type apiError struct {
	Message string `json:"message"`
	Errors  []struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"errors"`
}

func (e apiError) text() string {
	parts := []string{e.Message}
	for _, sub := range e.Errors {
		if sub.Message != "" {
			parts = append(parts, sub.Message)
		} else if sub.Code != "" {
			parts = append(parts, sub.Code)
		}
	}
	return strings.Join(parts, ": ")
}

// statusError carries a non-2xx response. It is always wrapped in an
// AdapterError before leaving the package.
type statusError struct {
	Status  int
	Message string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("github responded %d: %s", e.Status, e.Message)
}

func (c *Client) repoPath(format string, args ...any) string {
	return fmt.Sprintf("/repos/%s/%s", c.owner, c.repo) + fmt.Sprintf(format, args...)
}

// do performs one authenticated request. in is JSON encoded when non-nil and
// out is decoded from a 2xx body when non-nil.
func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	status, err := c.send(ctx, method, path, in, out)
	if err != nil {
		return c.wrap(op, status, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	token, err := c.auth.token(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to authenticate: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", sentinel.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		var envelope apiError
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &envelope) == nil && envelope.Message != "" {
			msg = envelope.text()
		}
		return resp.StatusCode, &statusError{Status: resp.StatusCode, Message: msg}
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func (c *Client) wrap(op string, status int, err error) error {
	if status == http.StatusNotFound {
		err = fmt.Errorf("%w: %v", sentinel.ErrNotFound, err)
	}
	return &dErrors.AdapterError{Adapter: adapterName, Op: op, StatusCode: status, Err: err}
}

func isStatus(err error, status int) bool {
	return dErrors.StatusCodeOf(err) == status
}

func errorMentions(err error, fragment string) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), fragment)
}

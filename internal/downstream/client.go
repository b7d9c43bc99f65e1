// Package downstream propagates merged contact records into the party
// management system.
package downstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"intake/internal/platform/config"
	"intake/internal/platform/metrics"
	dErrors "intake/pkg/domain-errors"
	"intake/pkg/platform/sentinel"
)

const (
	adapterName    = "downstream"
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 4 << 10
)

// Client calls the party REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
	geo        *GeoMapper
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithGeoMapper replaces the embedded geographic code table.
func WithGeoMapper(g *GeoMapper) Option {
	return func(c *Client) {
		if g != nil {
			c.geo = g
		}
	}
}

// New builds a Client from configuration.
func New(cfg config.Downstream, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("downstream base url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	geo, err := DefaultGeoMapper()
	if err != nil {
		return nil, err
	}
	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default(),
		geo:        geo,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Person is the remote identity created for a record.
type Person struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// Organization is a remote company.
type Organization struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// remoteID accepts identifiers encoded as JSON strings or numbers.
type remoteID string

func (r *remoteID) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "null" {
		s = ""
	}
	*r = remoteID(s)
	return nil
}

type entityResponse struct {
	ID   remoteID `json:"id"`
	Name string   `json:"name"`
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return c.fail(op, 0, fmt.Errorf("failed to marshal request: %w", err))
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return c.fail(op, 0, fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.fail(op, 0, fmt.Errorf("%w: %v", sentinel.ErrUnavailable, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		err := fmt.Errorf("downstream responded %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
		if resp.StatusCode == http.StatusNotFound {
			err = fmt.Errorf("%w: %v", sentinel.ErrNotFound, err)
		}
		return c.fail(op, resp.StatusCode, err)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return c.fail(op, resp.StatusCode, fmt.Errorf("failed to decode response: %w", err))
		}
	}
	return nil
}

func (c *Client) fail(op string, status int, err error) error {
	return &dErrors.AdapterError{Adapter: adapterName, Op: op, StatusCode: status, Err: err}
}

// CreatePerson creates the remote identity.
func (c *Client) CreatePerson(ctx context.Context, firstName, lastName string) (*Person, error) {
	var out entityResponse
	req := map[string]string{"firstName": firstName, "lastName": lastName}
	if err := c.do(ctx, "create person", http.MethodPost, "/api/persons", req, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, c.fail("create person", http.StatusOK, fmt.Errorf("response carried no id"))
	}
	return &Person{ID: string(out.ID), FirstName: firstName, LastName: lastName}, nil
}

func (c *Client) personPath(personID, sub string) string {
	return fmt.Sprintf("/api/persons/%s/%s", url.PathEscape(personID), sub)
}

// AddEmail attaches an email channel to a person.
func (c *Client) AddEmail(ctx context.Context, personID, email string) error {
	req := map[string]any{"address": email, "primary": true}
	return c.do(ctx, "add email", http.MethodPost, c.personPath(personID, "emails"), req, nil)
}

// AddPhone attaches a phone channel to a person.
func (c *Client) AddPhone(ctx context.Context, personID, phone string) error {
	req := map[string]any{"number": phone, "primary": true}
	return c.do(ctx, "add phone", http.MethodPost, c.personPath(personID, "phones"), req, nil)
}

// Address is a postal channel with remote geographic codes.
type Address struct {
	Street     string `json:"street,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country,omitempty"`
}

// AddAddress attaches a postal channel to a person.
func (c *Client) AddAddress(ctx context.Context, personID string, addr Address) error {
	return c.do(ctx, "add address", http.MethodPost, c.personPath(personID, "addresses"), addr, nil)
}

// FindOrganization returns the organization whose name matches exactly, or
// sentinel.ErrNotFound.
func (c *Client) FindOrganization(ctx context.Context, name string) (*Organization, error) {
	var out []entityResponse
	path := "/api/organizations?name=" + url.QueryEscape(name)
	if err := c.do(ctx, "find organization", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	for _, o := range out {
		if o.Name == name {
			return &Organization{ID: string(o.ID), Name: o.Name}, nil
		}
	}
	return nil, fmt.Errorf("organization %q: %w", name, sentinel.ErrNotFound)
}

// CreateOrganization creates a remote organization.
func (c *Client) CreateOrganization(ctx context.Context, name string) (*Organization, error) {
	var out entityResponse
	if err := c.do(ctx, "create organization", http.MethodPost, "/api/organizations", map[string]string{"name": name}, &out); err != nil {
		return nil, err
	}
	return &Organization{ID: string(out.ID), Name: name}, nil
}

// AddEmployment links a person to an organization.
func (c *Client) AddEmployment(ctx context.Context, personID, organizationID, jobTitle string) error {
	req := map[string]string{"organizationId": organizationID, "jobTitle": jobTitle}
	return c.do(ctx, "add employment", http.MethodPost, c.personPath(personID, "employments"), req, nil)
}

// AddNote attaches a free-text note to a person.
func (c *Client) AddNote(ctx context.Context, personID, text string) error {
	return c.do(ctx, "add note", http.MethodPost, c.personPath(personID, "notes"), map[string]string{"text": text}, nil)
}

// AddAttribute attaches a key/value attribute to a person.
func (c *Client) AddAttribute(ctx context.Context, personID, key, value string) error {
	req := map[string]string{"key": key, "value": value}
	return c.do(ctx, "add attribute", http.MethodPost, c.personPath(personID, "attributes"), req, nil)
}

// Health checks that the party system answers.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, "health", http.MethodGet, "/api/health", nil, nil)
}

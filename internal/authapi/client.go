package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/medipanel/medigate/internal/credstore"
)

// maxResponseBody bounds how much of an auth response is read into memory.
const maxResponseBody = 1 << 20 // 1 MiB

// DefaultRefreshTimeout bounds the refresh exchange when no explicit timeout
// is configured. Refresh runs outside any caller deadline, so an unbounded
// call could park every request waiting on it.
const DefaultRefreshTimeout = 30 * time.Second

// ErrRefreshRejected marks a refresh the platform refused, as opposed to one
// that failed in transit. Both outcomes end the session; the distinction only
// matters for logging.
var ErrRefreshRejected = errors.New("refresh token rejected")

// RefreshOption configures a RefreshClient.
type RefreshOption func(*refreshConfig)

type refreshConfig struct {
	timeout   time.Duration
	transport http.RoundTripper
}

// WithRefreshTimeout overrides DefaultRefreshTimeout.
func WithRefreshTimeout(d time.Duration) RefreshOption {
	return func(c *refreshConfig) {
		c.timeout = d
	}
}

// WithRefreshTransport sets a custom base transport for refresh requests.
// If not provided, http.DefaultTransport is used. This must never be the
// authenticated pipeline.
func WithRefreshTransport(transport http.RoundTripper) RefreshOption {
	return func(c *refreshConfig) {
		c.transport = transport
	}
}

// RefreshClient exchanges a refresh token for a fresh session. It talks to
// the refresh endpoint over its own plain HTTP client.
type RefreshClient struct {
	endpoint string
	client   *http.Client
}

// NewRefreshClient builds a RefreshClient for the platform at baseURL.
func NewRefreshClient(baseURL string, opts ...RefreshOption) (*RefreshClient, error) {
	cfg := &refreshConfig{
		timeout:   DefaultRefreshTimeout,
		transport: http.DefaultTransport,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.timeout <= 0 {
		return nil, fmt.Errorf("refresh timeout must be positive, got %s", cfg.timeout)
	}
	endpoint, err := joinURL(baseURL, RefreshPath)
	if err != nil {
		return nil, err
	}
	return &RefreshClient{
		endpoint: endpoint,
		client: &http.Client{
			Timeout:   cfg.timeout,
			Transport: cfg.transport,
		},
	}, nil
}

// Refresh posts the refresh token and returns the renewed session. Any
// error, whether a rejection, a transport failure or a malformed grant,
// means the session could not be renewed and the stored credentials are no
// longer trustworthy.
func (c *RefreshClient) Refresh(ctx context.Context, refreshToken string) (credstore.Session, error) {
	if refreshToken == "" {
		return credstore.Session{}, errors.New("no refresh token to exchange")
	}

	payload, err := json.Marshal(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return credstore.Session{}, fmt.Errorf("encoding refresh request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return credstore.Session{}, fmt.Errorf("building refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return credstore.Session{}, fmt.Errorf("calling refresh endpoint: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return credstore.Session{}, fmt.Errorf("reading refresh response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return credstore.Session{}, fmt.Errorf("%w (HTTP %d): %s", ErrRefreshRejected, resp.StatusCode, serverMessage(body))
		}
		return credstore.Session{}, fmt.Errorf("refresh endpoint returned HTTP %d", resp.StatusCode)
	}

	var grant TokenGrant
	if err := json.Unmarshal(body, &grant); err != nil {
		return credstore.Session{}, fmt.Errorf("decoding refresh response: %w", err)
	}
	if err := grant.Validate(); err != nil {
		return credstore.Session{}, err
	}
	return grant.Session(time.Now()), nil
}

// Doer executes HTTP requests. *http.Client satisfies it, and so does the
// pipeline's typed-error client, which is what Client is normally built on.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client carries the account operations: login, registration and logout.
type Client struct {
	baseURL string
	doer    Doer
}

// NewClient builds a Client against the platform at baseURL. The Doer is
// expected to surface typed errors for non-2xx responses; a rejected login
// reaches the caller as a credentials error rather than a decoded grant.
func NewClient(baseURL string, doer Doer) (*Client, error) {
	if doer == nil {
		return nil, errors.New("authapi: nil Doer")
	}
	base, err := joinURL(baseURL, "")
	if err != nil {
		return nil, err
	}
	return &Client{baseURL: base, doer: doer}, nil
}

// Login exchanges an email and password for a session grant.
func (c *Client) Login(ctx context.Context, email, password string) (TokenGrant, error) {
	return c.grantCall(ctx, LoginPath, loginRequest{Email: email, Password: password})
}

// Register creates an account and returns its first session grant.
func (c *Client) Register(ctx context.Context, reg Registration) (TokenGrant, error) {
	return c.grantCall(ctx, RegisterPath, reg)
}

// Logout invalidates the current session on the platform side. Local
// credential cleanup is the caller's job and should happen even when the
// platform call fails.
func (c *Client) Logout(ctx context.Context) error {
	resp, err := c.post(ctx, LogoutPath, nil)
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))
	_ = resp.Body.Close()
	return nil
}

func (c *Client) grantCall(ctx context.Context, path string, payload any) (TokenGrant, error) {
	resp, err := c.post(ctx, path, payload)
	if err != nil {
		return TokenGrant{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	var grant TokenGrant
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(&grant); err != nil {
		return TokenGrant{}, fmt.Errorf("decoding grant response: %w", err)
	}
	if err := grant.Validate(); err != nil {
		return TokenGrant{}, err
	}
	return grant, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	endpoint, err := joinURL(c.baseURL, path)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return c.doer.Do(req)
}

// serverMessage extracts a displayable message from an error body,
// tolerating non-JSON payloads.
func serverMessage(body []byte) string {
	var envelope struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Message != "" {
		return envelope.Message
	}
	if s := strings.TrimSpace(string(body)); s != "" {
		return s
	}
	return "no detail provided"
}

func joinURL(base, path string) (string, error) {
	if base == "" {
		return "", errors.New("authapi: empty base URL")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("base URL %q must be absolute", base)
	}
	joined, err := url.JoinPath(base, path)
	if err != nil {
		return "", fmt.Errorf("joining URL path: %w", err)
	}
	return joined, nil
}

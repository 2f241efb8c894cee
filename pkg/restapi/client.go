// Package restapi is a minimal JSON client for the dialer REST backend.
package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultNamespace = "api/v1"
	DefaultTimeout   = 10 * time.Second
)

// Client sends authenticated JSON requests to host/namespace/path.
type Client struct {
	Host       string
	Namespace  string
	AuthToken  string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *slog.Logger
}

// New creates a client with defaults for namespace and timeout.
func New(host, namespace, authToken string) *Client {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Client{
		Host:      host,
		Namespace: namespace,
		AuthToken: authToken,
		Timeout:   DefaultTimeout,
	}
}

// APIError wraps non-2xx responses.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %s %s status=%d body=%s", e.Method, e.Path, e.StatusCode, e.Body)
}

// StatusCode returns the HTTP status carried by an *APIError in err's
// chain, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	if len(query) > 0 {
		path = path + "?" + query.Encode()
	}
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPut, path, body, out)
}

func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodDelete, path, nil, out)
}

// Do sends one request. body is JSON-encoded when non-nil; out, when
// non-nil, receives the decoded response. Empty response bodies leave out
// untouched.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	if c.HTTPClient == nil {
		timeout := c.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		c.HTTPClient = &http.Client{Timeout: timeout}
	}

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.URL(path), &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.AuthToken != "" {
		req.Header.Set("Authorization", AuthorizationHeader(c.AuthToken))
	}

	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	c.logger().Debug("api request", "method", method, "path", path, "status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// URL joins host, namespace and path.
func (c *Client) URL(path string) string {
	parts := []string{strings.TrimRight(c.Host, "/")}
	if ns := strings.Trim(c.Namespace, "/"); ns != "" {
		parts = append(parts, ns)
	}
	parts = append(parts, strings.TrimLeft(path, "/"))
	return strings.Join(parts, "/")
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// AuthorizationHeader renders the token scheme the backend expects.
func AuthorizationHeader(token string) string {
	return fmt.Sprintf("Token token=%q", token)
}

// ParseAuthorization extracts the token from a `Token token="..."` or
// `Bearer ...` header value.
func ParseAuthorization(h string) (string, bool) {
	h = strings.TrimSpace(h)
	switch {
	case strings.HasPrefix(h, "Token "):
		rest := strings.TrimSpace(strings.TrimPrefix(h, "Token "))
		rest, ok := strings.CutPrefix(rest, "token=")
		if !ok {
			return "", false
		}
		tok := strings.Trim(rest, `"`)
		return tok, tok != ""
	case strings.HasPrefix(h, "Bearer "):
		tok := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
		return tok, tok != ""
	}
	return "", false
}

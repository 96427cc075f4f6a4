package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/konflux-ci/konflux-aggregator/pkg/auth"
	"github.com/konflux-ci/konflux-aggregator/pkg/konflux"
)

const (
	// OIDCTokenHeader carries the caller's identity token to the backend.
	OIDCTokenHeader = "X-OIDC-Token"
	// RequestIDHeader correlates client and backend logs.
	RequestIDHeader = "X-Request-ID"

	maxErrorBodyBytes = 64 * 1024
)

// Discovery resolves the backend plugin's base URL.
type Discovery interface {
	BaseURL(ctx context.Context) (string, error)
}

// StaticDiscovery always resolves to the same base URL.
type StaticDiscovery string

// BaseURL implements Discovery.
func (d StaticDiscovery) BaseURL(ctx context.Context) (string, error) {
	if d == "" {
		return "", fmt.Errorf("backend base URL is not configured")
	}
	return strings.TrimRight(string(d), "/"), nil
}

// HTTPError is a whole-request failure: a non-2xx response from the backend.
// It is distinct from per-cluster errors reported inside a 2xx page.
type HTTPError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *HTTPError) Error() string {
	return e.Message
}

// PageRequest describes one page of a resource query.
type PageRequest struct {
	Kind              konflux.ResourceKind
	EntityRef         string
	Subcomponent      string
	Clusters          []string
	Application       string
	ContinuationToken string
	AuthProvider      konflux.AuthProvider
}

// Validate fails fast on requests that would produce a malformed URL.
func (r PageRequest) Validate() error {
	if strings.TrimSpace(r.EntityRef) == "" {
		return fmt.Errorf("entity ref is required to query %s", r.Kind)
	}
	if _, err := konflux.ParseResourceKind(string(r.Kind)); err != nil {
		return err
	}
	return nil
}

// Client talks to the backend's paginated resource endpoint.
type Client struct {
	httpClient *http.Client
	discovery  Discovery
	tokens     auth.IdentityTokenProvider
	logger     *logrus.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithIdentityTokenProvider sets the token source used for oidc requests.
func WithIdentityTokenProvider(tokens auth.IdentityTokenProvider) Option {
	return func(c *Client) {
		c.tokens = tokens
	}
}

// NewClient creates a backend client. The default HTTP client keeps a cookie
// jar so that session cookies are sent with every request.
func NewClient(discovery Discovery, timeout time.Duration, logger *logrus.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = logrus.New()
	}
	jar, _ := cookiejar.New(nil)
	c := &Client{
		httpClient: &http.Client{Timeout: timeout, Jar: jar},
		discovery:  discovery,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// encodeURIComponent escapes a path segment the way browsers escape URI
// components, so refs like "component:default/name" stay a single segment.
func encodeURIComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// ResourceURL builds the request URL for a page.
func ResourceURL(baseURL string, req PageRequest) string {
	params := url.Values{}
	if req.Subcomponent != "" {
		params.Set("subcomponent", req.Subcomponent)
	}
	if len(req.Clusters) > 0 {
		params.Set("clusters", strings.Join(req.Clusters, ","))
	}
	if req.Application != "" {
		params.Set("application", req.Application)
	}
	if req.ContinuationToken != "" {
		params.Set("continuationToken", req.ContinuationToken)
	}

	u := fmt.Sprintf("%s/entity/%s/resource/%s", strings.TrimRight(baseURL, "/"), encodeURIComponent(req.EntityRef), req.Kind)
	if encoded := params.Encode(); encoded != "" {
		u += "?" + encoded
	}
	return u
}

// FetchPage requests a single page of resources.
func (c *Client) FetchPage(ctx context.Context, req PageRequest) (page *konflux.ResourcePage[konflux.Resource], err error) {
	return FetchPageAs[konflux.Resource](ctx, c, req)
}

// FetchPageAs requests a single page and decodes its items into T.
func FetchPageAs[T any](ctx context.Context, c *Client, req PageRequest) (page *konflux.ResourcePage[T], err error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	baseURL, err := c.discovery.BaseURL(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to discover backend URL: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, ResourceURL(baseURL, req), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	requestID := uuid.NewString()
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(RequestIDHeader, requestID)
	c.attachIdentityToken(ctx, httpReq, req.AuthProvider)

	c.logger.Debugf("Fetching %s for %s (requestId: %s, continuation: %t)", req.Kind, req.EntityRef, requestID, req.ContinuationToken != "")
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", req.Kind, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close response body: %w", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newHTTPError(resp)
	}

	page = &konflux.ResourcePage[T]{}
	if err := json.NewDecoder(resp.Body).Decode(page); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", req.Kind, err)
	}
	if page.Data == nil {
		page.Data = []T{}
	}
	return page, nil
}

// attachIdentityToken adds the identity token for oidc requests. Failing to
// obtain a token is not fatal: the request proceeds without it.
func (c *Client) attachIdentityToken(ctx context.Context, req *http.Request, provider konflux.AuthProvider) {
	if provider != konflux.AuthProviderOIDC {
		return
	}
	if c.tokens == nil {
		c.logger.Warn("OIDC auth provider configured but no identity token source is available; sending request without token")
		return
	}
	token, err := c.tokens.IdentityToken(ctx)
	if err != nil || token == "" {
		c.logger.Warnf("Failed to obtain OIDC identity token, sending request without it: %v", err)
		return
	}
	req.Header.Set(OIDCTokenHeader, token)
}

func newHTTPError(resp *http.Response) *HTTPError {
	httpErr := &HTTPError{
		StatusCode: resp.StatusCode,
		Status:     http.StatusText(resp.StatusCode),
		Message:    fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if err != nil || len(body) == 0 {
		return httpErr
	}
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		httpErr.Message = payload.Error
	}
	return httpErr
}

// IsHTTPError reports whether err is a whole-request backend failure.
func IsHTTPError(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr)
}

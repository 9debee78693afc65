// Package supabase is a small typed client for the parts of the Supabase platform
// CheckLoops relies on: PostgREST, GoTrue, RPC and Storage.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	restPath    = "/rest/v1"
	authPath    = "/auth/v1"
	storagePath = "/storage/v1"

	defaultTimeout = 30 * time.Second
	// DefaultPageSize matches the default max-rows limit of a Supabase project.
	DefaultPageSize = 1000
)

// Options configure a Client.
type Options struct {
	// URL is the project URL, e.g. https://xyz.supabase.co.
	URL string
	// ServiceRoleKey authorizes every request unless WithToken is used.
	ServiceRoleKey string
	// AnonKey is sent as apikey by clients acting for a user.
	AnonKey string
	// Timeout is the HTTP timeout. Zero uses 30 seconds.
	Timeout time.Duration
	// PageSize is the number of rows All fetches per request. It must not exceed
	// the max-rows setting of the project. Zero uses DefaultPageSize.
	PageSize int
}

// Client represents a Supabase project client.
// By default all requests are authorized with the service role key.
type Client struct {
	baseURL    string
	apiKey     string
	anonKey    string
	token      string
	pageSize   int
	httpClient *http.Client
}

// New creates a new Supabase client.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	return &Client{
		baseURL:    opts.URL,
		apiKey:     opts.ServiceRoleKey,
		anonKey:    opts.AnonKey,
		token:      opts.ServiceRoleKey,
		pageSize:   opts.PageSize,
		httpClient: &http.Client{Timeout: opts.Timeout},
	}
}

// WithToken returns a copy of the client acting as the user the access token belongs to.
// Row level security applies to every request made through the copy.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	if c.anonKey != "" {
		cp.apiKey = c.anonKey
	}
	cp.token = token
	return &cp
}

// BaseURL returns the project URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type request struct {
	method  string
	path    string
	query   url.Values
	body    any
	raw     io.Reader
	headers map[string]string
	// bearer overrides the Authorization token for this request.
	bearer string
}

// do performs an HTTP request against the Supabase API.
// Non 2xx responses are converted into *Error.
func (c *Client) do(ctx context.Context, r request) (*http.Response, error) {
	reqURL := c.baseURL + r.path
	if len(r.query) > 0 {
		reqURL += "?" + r.query.Encode()
	}

	var body io.Reader
	switch {
	case r.raw != nil:
		body = r.raw
	case r.body != nil:
		b, err := json.Marshal(r.body)
		if err != nil {
			return nil, fmt.Errorf("error encoding request body: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	token := c.token
	if r.bearer != "" {
		token = r.bearer
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error performing request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close() //nolint:errcheck
		return nil, parseError(resp)
	}

	return resp, nil
}

// doJSON performs the request and decodes the response body into out if out is not nil.
func (c *Client) doJSON(ctx context.Context, r request, out any) error {
	resp, err := c.do(ctx, r)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("error decoding response: %w", err)
	}
	return nil
}

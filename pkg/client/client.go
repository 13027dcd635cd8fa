// Package client is a Go client for the flutterbox workspace API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "http://localhost:8000"
	defaultTimeout = 30 * time.Second
	defaultUA      = "flutterbox-go-client/1.0.0"
)

// Client is the API client for a flutterbox server.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	// streamClient has no overall timeout; build log streams last as long as
	// the build.
	streamClient *http.Client
	userAgent    string

	Workspaces *WorkspacesService
}

// New creates a client for the server at baseURL, e.g. http://localhost:8000.
func New(baseURL string, opts ...Option) *Client {
	parsedURL, err := url.Parse(baseURL)
	if err != nil || parsedURL.Scheme == "" {
		parsedURL, _ = url.Parse(DefaultBaseURL)
	}
	parsedURL.Path = strings.TrimSuffix(parsedURL.Path, "/")

	c := &Client{
		baseURL:    parsedURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		userAgent:  defaultUA,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.streamClient == nil {
		c.streamClient = &http.Client{Transport: c.httpClient.Transport}
	}

	c.Workspaces = &WorkspacesService{client: c}
	return c
}

func (c *Client) url(requestPath string, queryParams map[string]string) string {
	u := *c.baseURL
	u.Path = c.baseURL.Path + "/" + strings.TrimPrefix(requestPath, "/")
	u.RawQuery = ""
	if len(queryParams) > 0 {
		q := u.Query()
		for k, v := range queryParams {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (c *Client) newRequest(ctx context.Context, method, requestPath string, body any, queryParams map[string]string) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(requestPath, queryParams), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	return req, nil
}

// doJSON performs a request and decodes the JSON response into result.
func (c *Client) doJSON(ctx context.Context, method, requestPath string, body, result any, queryParams map[string]string) error {
	req, err := c.newRequest(ctx, method, requestPath, body, queryParams)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return handleErrorResponse(resp)
	}
	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// openStream performs a GET whose body is consumed incrementally by the caller.
func (c *Client) openStream(ctx context.Context, requestPath string) (*http.Response, error) {
	req, err := c.newRequest(ctx, http.MethodGet, requestPath, nil, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, handleErrorResponse(resp)
	}
	return resp, nil
}

func buildPath(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return path.Join(escaped...)
}

// Package api is the client for the REST+SSE server of record. Responses
// use a {success, message?, <entity>} envelope; success=false decodes into
// *ProtocolError so callers can surface it instead of retrying.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// ProtocolError is a server-side rejection (envelope success=false). It is
// surfaced to the user, never auto-corrected locally.
type ProtocolError struct {
	Endpoint string
	Message  string
}

func (e *ProtocolError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: server rejected request", e.Endpoint)
	}
	return fmt.Sprintf("%s: %s", e.Endpoint, e.Message)
}

// Client talks to the backend on behalf of one authenticated user.
type Client struct {
	base     string
	fileBase string
	token    string
	http     *http.Client
	logger   *zap.Logger
}

// New creates a client. base is the API root (".../api" is appended per
// call), fileBase prefixes relative file paths from the server.
func New(base, fileBase, token string, logger *zap.Logger) *Client {
	if fileBase == "" {
		fileBase = base
	}
	return &Client{
		base:     strings.TrimRight(base, "/"),
		fileBase: strings.TrimRight(fileBase, "/"),
		token:    token,
		// No overall timeout: the same client serves media downloads of
		// arbitrary size. Streaming uses its own request path.
		http:   &http.Client{},
		logger: logger,
	}
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", endpoint, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+"/api/"+endpoint, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s: unexpected status %d", endpoint, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", endpoint, err)
	}
	return nil
}

// doEnveloped performs a request and enforces the success envelope.
func (c *Client) doEnveloped(ctx context.Context, method, endpoint string, body any, out interface{ env() *envelope }) error {
	if err := c.do(ctx, method, endpoint, body, out); err != nil {
		return err
	}
	if e := out.env(); !e.Success {
		return &ProtocolError{Endpoint: endpoint, Message: e.Message}
	}
	return nil
}

func (e *envelope) env() *envelope { return e }

// OpenStream opens the SSE endpoint for a resource class ("chats" or
// "stories") from the given cursor. The caller owns the returned body and
// must close it; any non-2xx status is reported as an error.
func (c *Client) OpenStream(ctx context.Context, resource, cursor string) (io.ReadCloser, error) {
	endpoint := fmt.Sprintf("%s/api/live-%s?token=%s&last_updated_at=%s",
		c.base, resource, url.QueryEscape(c.token), url.QueryEscape(cursor))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("live-%s: build request: %w", resource, err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("live-%s: %w", resource, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("live-%s: unexpected status %d", resource, resp.StatusCode)
	}
	return resp.Body, nil
}

// Download fetches raw bytes from an absolute media URL.
func (c *Client) Download(ctx context.Context, fileURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("download: build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", fileURL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("download %s: unexpected status %d", fileURL, resp.StatusCode)
	}
	return resp.Body, nil
}

// absoluteFileURL prefixes server-relative file paths with the file base.
func absoluteFileURL(fileBase, path string) string {
	if path == "" || strings.Contains(path, "://") {
		return path
	}
	return fileBase + "/" + strings.TrimLeft(path, "/")
}

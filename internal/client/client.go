// Package client is a Go SDK for the sync protocol, adapted from the
// teacher's internal/client.Client (same baseURL + *http.Client shape,
// same APIError/checkStatus idiom) and updated for the new wire
// protocol: sync/invalidate/update/versions/health instead of kv
// put/get/delete.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	syncsvc "reality-mesh/internal/sync"
)

// APIError wraps a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("reality-mesh: server returned %d: %s", e.StatusCode, e.Message)
}

// Client is a thin HTTP client for one reality-mesh server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New builds a Client against baseURL (e.g. "http://localhost:8080")
// with the given per-request timeout.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{baseURL: baseURL, httpClient: &http.Client{Timeout: timeout}}
}

// WithHTTPClient overrides the underlying *http.Client — used by tests
// to inject shorter timeouts or a custom transport.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	var envelope struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&envelope)
	msg := envelope.Error
	if msg == "" {
		msg = resp.Status
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}

// Sync calls POST /sync.
func (c *Client) Sync(ctx context.Context, req syncsvc.SyncRequest) (syncsvc.SyncResponse, error) {
	var out syncsvc.SyncResponse
	err := c.do(ctx, http.MethodPost, "/sync", req, &out)
	return out, err
}

// Invalidate calls POST /invalidate.
func (c *Client) Invalidate(ctx context.Context, req syncsvc.InvalidationRequest) (syncsvc.InvalidationResponse, error) {
	var out syncsvc.InvalidationResponse
	err := c.do(ctx, http.MethodPost, "/invalidate", req, &out)
	return out, err
}

// Update calls POST /update.
func (c *Client) Update(ctx context.Context, req syncsvc.NodeUpdateRequest) (syncsvc.NodeUpdateResponse, error) {
	var out syncsvc.NodeUpdateResponse
	err := c.do(ctx, http.MethodPost, "/update", req, &out)
	return out, err
}

// Versions calls GET /versions?since=V.
func (c *Client) Versions(ctx context.Context, since int64) (syncsvc.VersionsResponse, error) {
	var out syncsvc.VersionsResponse
	path := fmt.Sprintf("/versions?since=%d", since)
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// Health calls GET /health.
func (c *Client) Health(ctx context.Context) (syncsvc.HealthResponse, error) {
	var out syncsvc.HealthResponse
	err := c.do(ctx, http.MethodGet, "/health", nil, &out)
	return out, err
}

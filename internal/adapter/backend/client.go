// Package backend provides the HTTP client for the research synthesis
// backend's SSE streaming endpoint.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/platewise/researchd/internal/port/transport"
	"github.com/platewise/researchd/internal/resilience"
)

const streamPath = "/api/research/stream"

// Client opens streaming research requests against the backend.
// It implements the transport port.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient creates a backend client. connectTimeout bounds connection
// establishment and response headers; the stream itself has no deadline.
func NewClient(baseURL, apiKey string, connectTimeout time.Duration) *Client {
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: connectTimeout,
			},
		},
	}
}

// SetBreaker attaches a circuit breaker to connection attempts.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// streamRequest is the JSON body of a streaming research request.
type streamRequest struct {
	Query     string `json:"query"`
	Mode      string `json:"mode,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Open starts a streaming research request and returns the response body.
// The caller owns the returned reader and must close it.
func (c *Client) Open(ctx context.Context, req transport.Request) (io.ReadCloser, error) {
	var rc io.ReadCloser
	call := func() error {
		body, err := json.Marshal(streamRequest{
			Query:     req.Query,
			Mode:      req.Mode,
			SessionID: req.SessionID,
		})
		if err != nil {
			return fmt.Errorf("marshal stream request: %w", err)
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+streamPath, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "text/event-stream")
		if c.apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			_ = resp.Body.Close()
			return fmt.Errorf("backend error %d: %s", resp.StatusCode, string(data))
		}

		rc = resp.Body
		return nil
	}

	if c.breaker != nil {
		if err := c.breaker.Execute(call); err != nil {
			return nil, err
		}
		return rc, nil
	}

	if err := call(); err != nil {
		return nil, err
	}
	return rc, nil
}

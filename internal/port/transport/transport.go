// Package transport defines the port for opening the research backend's
// chunked byte stream.
package transport

import (
	"context"
	"io"
)

// Request describes one research stream request.
type Request struct {
	SessionID string
	Query     string
	// Mode selects the backend pipeline, e.g. "deep_research".
	Mode string
}

// Transport opens a long-lived byte stream for a request. No assumption is
// made about chunk sizes or their alignment to frame or character
// boundaries. The returned stream must be closed by the caller; Open
// honors ctx for both dialing and reading.
type Transport interface {
	Open(ctx context.Context, req Request) (io.ReadCloser, error)
}

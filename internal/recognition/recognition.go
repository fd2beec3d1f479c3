// Package recognition talks to the remote face recognition backend.
package recognition

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotConfigured means the recognition endpoint URL is absent. The feature
// is unavailable but the rest of the service keeps working.
var ErrNotConfigured = errors.New("recognition endpoint not configured")

// HTTPError is a non-200 reply from the recognition backend.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("recognition backend returned status %d: %s", e.StatusCode, e.Body)
}

// StreamAck is the backend's reply to a stream start request.
type StreamAck struct {
	Message string `json:"message"`
}

// Result is the recognition outcome for a submitted image. The backend reply
// body is treated as an opaque UTF-8 message and carried verbatim.
type Result struct {
	Message string
}

// Transport sends image bytes to the recognition backend. Implementations
// issue exactly one request per call and never retry on their own.
type Transport interface {
	StartStream(ctx context.Context) (*StreamAck, error)
	Recognize(ctx context.Context, imageBytes []byte) (*Result, error)
}

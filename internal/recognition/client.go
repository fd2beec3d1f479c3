package recognition

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const requestTimeout = 30 * time.Second

// Client is the production HTTP implementation of Transport.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient builds a recognition client. An empty baseURL is allowed: every
// call then fails with ErrNotConfigured.
func NewClient(baseURL string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
		logger: logger.Named("recognition_client"),
	}
}

// StartStream announces a new capture stream to the backend.
func (c *Client) StartStream(ctx context.Context) (*StreamAck, error) {
	if c.baseURL == "" {
		return nil, ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/start_stream", nil)
	if err != nil {
		return nil, fmt.Errorf("build start_stream request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("start_stream request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read start_stream response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	ack := &StreamAck{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, ack); err != nil {
			c.logger.Warn("start_stream response is not JSON", zap.Error(err))
			ack.Message = string(body)
		}
	}
	return ack, nil
}

// Recognize submits raw image bytes and returns the backend's reply verbatim.
func (c *Client) Recognize(ctx context.Context, imageBytes []byte) (*Result, error) {
	if c.baseURL == "" {
		return nil, ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/main", bytes.NewReader(imageBytes))
	if err != nil {
		return nil, fmt.Errorf("build recognize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("recognize request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read recognize response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return &Result{Message: string(body)}, nil
}

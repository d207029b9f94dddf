package uplink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout bounds every request.
const DefaultTimeout = 10 * time.Second

// maxBody caps how much of a response body is read.
const maxBody = 64 << 10

// Client posts readings and registrations over HTTP.
type Client struct {
	endpoint         string
	registerEndpoint string
	apiKey           string
	userAgent        string
	client           *http.Client
	logger           *zap.Logger
}

// Options configures a Client.
type Options struct {
	Endpoint         string
	RegisterEndpoint string
	APIKey           string
	UserAgent        string
	Timeout          time.Duration
}

// NewClient returns a client for the given endpoints.
func NewClient(opts Options, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		endpoint:         opts.Endpoint,
		registerEndpoint: opts.RegisterEndpoint,
		apiKey:           opts.APIKey,
		userAgent:        opts.UserAgent,
		client:           &http.Client{Timeout: timeout},
		logger:           logger,
	}
}

// Post sends one reading. Transport failures are returned as *TransportError
// and non-2xx statuses as *StatusError. A 2xx response whose body cannot be
// decoded is still a success; the returned result is nil in that case.
func (c *Client) Post(ctx context.Context, r Reading) (*IngestResult, error) {
	resp, err := c.post(ctx, c.endpoint, r)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	var body ingestResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(&body); err != nil {
		c.logger.Debug("ignoring undecodable ingest response", zap.Error(err))
		return nil, nil
	}
	return body.Data, nil
}

// Register performs the one-shot device registration.
func (c *Client) Register(ctx context.Context, reg Registration) error {
	resp, err := c.post(ctx, c.registerEndpoint, reg)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode}
	}
	return nil
}

func (c *Client) post(ctx context.Context, url string, v any) (*http.Response, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	return resp, nil
}

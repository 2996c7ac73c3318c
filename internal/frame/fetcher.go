package frame

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultEndpoint is polled when no override is configured.
const DefaultEndpoint = "http://localhost:8767/frame"

// maxBodyBytes bounds a single response. A frame of a few thousand samples
// is well under 100 KB.
const maxBodyBytes = 8 << 20

var (
	// ErrTransport covers connection failures, non-200 responses and body read errors.
	ErrTransport = errors.New("transport error")
	// ErrDecode means the response body does not match the frame structure.
	ErrDecode = errors.New("decode error")
)

// Fetcher retrieves frames from a remote acquisition node.
type Fetcher struct {
	endpoint   string
	httpClient *http.Client
}

// NewFetcher creates a Fetcher for the given endpoint.
func NewFetcher(endpoint string) *Fetcher {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Fetcher{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Endpoint returns the configured endpoint.
func (f *Fetcher) Endpoint() string {
	return f.endpoint
}

// Fetch performs one blocking GET and decodes the response.
func (f *Fetcher) Fetch(ctx context.Context) (*Envelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %w", ErrTransport, err)
	}
	req.Header.Set("Accept", "application/json, "+contentTypeCBOR)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching frame: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status code %d from %s", ErrTransport, resp.StatusCode, f.endpoint)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response body: %w", ErrTransport, err)
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("%w: response exceeds %d byte limit", ErrDecode, maxBodyBytes)
	}

	return Decode(body, resp.Header.Get("Content-Type"))
}

package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxManifestBytes bounds how much of a manifest response is read.
const maxManifestBytes = 32 << 20

// Client fetches remote manifests
type Client interface {
	// Fetch downloads and decodes the manifest at url
	Fetch(ctx context.Context, url string) (*Manifest, error)
}

// HTTPClient implements Client over HTTP(S)
type HTTPClient struct {
	http *http.Client
}

// NewHTTPClient creates a manifest client on top of an existing HTTP client.
// TLS trust and timeouts are a property of the HTTP client.
func NewHTTPClient(httpClient *http.Client) *HTTPClient {
	return &HTTPClient{http: httpClient}
}

// Fetch downloads and decodes the manifest at url
func (c *HTTPClient) Fetch(ctx context.Context, url string) (*Manifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid manifest url %q: %w", ErrNetwork, url, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch manifest: %w", ErrNetwork, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: fetch manifest: unexpected status %s", ErrNetwork, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read manifest body: %w", ErrNetwork, err)
	}

	return Decode(body)
}

// Decode parses a manifest document
func Decode(data []byte) (*Manifest, error) {
	var m *Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFormat, err)
	}
	if m == nil {
		return nil, fmt.Errorf("%w: empty manifest document", ErrFormat)
	}
	return m, nil
}

// Encode renders a manifest as indented JSON
func Encode(m *Manifest) ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

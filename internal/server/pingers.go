package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HTTPPinger probes an HTTP dependency with a zero-cost GET request. It
// satisfies the Pinger interface and is used by GET /api/ready.
type HTTPPinger struct {
	// name identifies the dependency in readiness responses.
	name string
	// url is the probed endpoint.
	url string
	// header is sent with every probe.
	header http.Header
	// client performs the probe.
	client *http.Client
}

// NewHTTPPinger constructs an HTTPPinger for url. A nil client selects
// http.DefaultClient.
func NewHTTPPinger(name, url string, header http.Header, client *http.Client) *HTTPPinger {
	if client == nil {
		client = http.DefaultClient
	}
	if header == nil {
		header = http.Header{}
	}
	return &HTTPPinger{name: name, url: url, header: header, client: client}
}

// NewOpenAIPinger probes an OpenAI-compatible host by listing its models,
// which costs no tokens.
func NewOpenAIPinger(host, apiKey string, client *http.Client) *HTTPPinger {
	h := http.Header{}
	if apiKey != "" {
		h.Set("Authorization", "Bearer "+apiKey)
	}
	return NewHTTPPinger("openai", strings.TrimRight(host, "/")+"/v1/models", h, client)
}

// Name returns the dependency label used in readiness responses.
func (p *HTTPPinger) Name() string { return p.name }

// Ping returns nil when the endpoint answers with a 2xx status.
func (p *HTTPPinger) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for k, v := range p.header {
		req.Header[k] = v
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Package index provides rag.Querier implementations backed by hosted and
// self-hosted vector indexes. Each query carries its own resolved
// descriptor, so a single client serves any number of indexes.
package index

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/54b3r/docchat-go/internal/descriptor"
	"github.com/54b3r/docchat-go/internal/rag"
	"github.com/54b3r/docchat-go/internal/version"
)

// maxErrorBody caps how much of a failed index response is kept.
const maxErrorBody = 64 << 10

// PineconeIndex implements rag.Querier against the Pinecone data-plane REST
// API. It is safe for concurrent use.
type PineconeIndex struct {
	// client is the shared HTTP client.
	client *http.Client
	// baseURL, when set, replaces https://<descriptor host> for every call.
	baseURL string
}

// Option configures a PineconeIndex.
type Option func(*PineconeIndex)

// WithHTTPClient sets the HTTP client used for index calls.
func WithHTTPClient(c *http.Client) Option {
	return func(p *PineconeIndex) { p.client = c }
}

// WithBaseURL routes every call to baseURL instead of the descriptor host.
// Used for local proxies and tests.
func WithBaseURL(baseURL string) Option {
	return func(p *PineconeIndex) { p.baseURL = strings.TrimRight(baseURL, "/") }
}

// NewPinecone constructs a PineconeIndex.
func NewPinecone(opts ...Option) *PineconeIndex {
	p := &PineconeIndex{client: &http.Client{}}
	for _, o := range opts {
		o(p)
	}
	return p
}

// pineconeQueryRequest is the JSON body sent to /query.
type pineconeQueryRequest struct {
	Vector          []float32 `json:"vector"`
	TopK            int       `json:"topK"`
	IncludeValues   bool      `json:"includeValues"`
	IncludeMetadata bool      `json:"includeMetadata"`
	Namespace       string    `json:"namespace"`
}

// pineconeQueryResponse is the JSON body returned from /query.
type pineconeQueryResponse struct {
	Matches []struct {
		ID       string  `json:"id"`
		Score    float64 `json:"score"`
		Metadata struct {
			Source   string  `json:"source"`
			Text     string  `json:"text"`
			NumPages float64 `json:"pdf_numpages"`
		} `json:"metadata"`
	} `json:"matches"`
}

// Query runs a nearest-neighbour query and returns the matches in the order
// the service returned them. A zero TopK selects rag.DefaultTopK.
func (p *PineconeIndex) Query(ctx context.Context, q rag.Query) ([]rag.Match, error) {
	topK := q.TopK
	if topK <= 0 {
		topK = rag.DefaultTopK
	}

	var result pineconeQueryResponse
	err := p.post(ctx, q.Target, "/query", pineconeQueryRequest{
		Vector:          q.Vector,
		TopK:            topK,
		IncludeValues:   false,
		IncludeMetadata: true,
		Namespace:       q.Namespace,
	}, &result)
	if err != nil {
		return nil, err
	}

	matches := make([]rag.Match, 0, len(result.Matches))
	for _, m := range result.Matches {
		matches = append(matches, rag.Match{
			ID:    m.ID,
			Score: m.Score,
			Metadata: rag.Metadata{
				Source:    m.Metadata.Source,
				Text:      m.Metadata.Text,
				PageCount: int(m.Metadata.NumPages),
			},
		})
	}
	return matches, nil
}

// post sends body as JSON to path on the index addressed by d and decodes the
// response into out. Every failure is returned as a *rag.RetrievalError.
func (p *PineconeIndex) post(ctx context.Context, d descriptor.Descriptor, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return &rag.RetrievalError{Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(d, path), bytes.NewReader(payload))
	if err != nil {
		return &rag.RetrievalError{Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Api-Key", d.AccessKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return &rag.RetrievalError{Err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &rag.RetrievalError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &rag.RetrievalError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// endpoint returns the URL for path on the index addressed by d.
func (p *PineconeIndex) endpoint(d descriptor.Descriptor, path string) string {
	if p.baseURL != "" {
		return p.baseURL + path
	}
	return "https://" + d.Host + path
}

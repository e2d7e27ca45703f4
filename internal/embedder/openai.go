// Package embedder provides implementations of the rag.Embedder interface for
// converting the text of a chat turn into a dense vector. Each implementation
// talks to its backend (OpenAI-compatible, Ollama) over plain HTTP.
package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/54b3r/docchat-go/internal/rag"
	"github.com/54b3r/docchat-go/internal/version"
)

// OpenAIEmbedder implements rag.Embedder against the OpenAI embeddings REST
// API or any service that speaks it. It is safe for concurrent use.
type OpenAIEmbedder struct {
	// host is the API host without the /v1 suffix (e.g. "https://api.openai.com").
	host string
	// apiKey is the fallback Bearer token used when a call supplies none.
	apiKey string
	// organization is sent as OpenAI-Organization when non-empty.
	organization string
	// model is the embedding model name (e.g. "text-embedding-ada-002").
	model string
	// client is the shared HTTP client. No timeout is set; callers bound
	// each call through its context.
	client *http.Client
}

// OpenAIConfig holds the settings for constructing an OpenAIEmbedder.
type OpenAIConfig struct {
	// Host is the API host. A trailing slash is ignored.
	Host string
	// APIKey is the fallback key for calls that pass an empty key.
	APIKey string
	// Organization is the optional OpenAI organization ID.
	Organization string
	// Model is the embedding model name.
	Model string
	// Client overrides the HTTP client. Nil selects a default client.
	Client *http.Client
}

// NewOpenAIEmbedder constructs an OpenAIEmbedder from the given config.
func NewOpenAIEmbedder(cfg *OpenAIConfig) *OpenAIEmbedder {
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	return &OpenAIEmbedder{
		host:         strings.TrimRight(cfg.Host, "/"),
		apiKey:       cfg.APIKey,
		organization: cfg.Organization,
		model:        cfg.Model,
		client:       client,
	}
}

// openaiEmbedRequest is the JSON body sent to the embeddings endpoint.
type openaiEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// openaiEmbedResponse is the JSON body returned from the embeddings endpoint.
type openaiEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// Embed returns the embedding of text. apiKey authenticates the call; an
// empty apiKey falls back to the configured key. Exactly one request is made
// and nothing is cached or retried.
func (e *OpenAIEmbedder) Embed(ctx context.Context, apiKey, text string) ([]float32, error) {
	if apiKey == "" {
		apiKey = e.apiKey
	}

	payload, err := json.Marshal(openaiEmbedRequest{Model: e.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("openai embedder: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.host+"/v1/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("openai embedder: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("Authorization", "Bearer "+apiKey)
	if e.organization != "" {
		req.Header.Set("OpenAI-Organization", e.organization)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai embedder: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, rag.ErrorFromResponse("embedding", resp)
	}

	var result openaiEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("openai embedder: decode response: %w", err)
	}

	if len(result.Data) == 0 || len(result.Data[0].Embedding) == 0 {
		return nil, &rag.StatusError{
			Service:    "embedding",
			StatusCode: resp.StatusCode,
			Detail:     "empty embedding in response",
		}
	}

	return result.Data[0].Embedding, nil
}

package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/54b3r/docchat-go/internal/rag"
	"github.com/54b3r/docchat-go/internal/version"
)

// maxOllamaErrorBody caps how much of a failed response is read.
const maxOllamaErrorBody = 4 << 10

// OllamaEmbedder implements rag.Embedder using the Ollama /api/embed endpoint.
// It is safe for concurrent use. Ollama runs locally, so the per-call API key
// is ignored. Pair it with the Qdrant index for a fully local stack.
type OllamaEmbedder struct {
	// host is the Ollama server base URL (e.g. "http://localhost:11434").
	host string
	// model is the embedding model name (e.g. "nomic-embed-text").
	model string
	// client is the shared HTTP client.
	client *http.Client
}

// OllamaConfig holds the settings for constructing an OllamaEmbedder.
type OllamaConfig struct {
	// Host is the Ollama server base URL (e.g. "http://localhost:11434").
	Host string
	// Model is the embedding model name (e.g. "nomic-embed-text").
	Model string
	// Client overrides the HTTP client. Nil selects a default client.
	Client *http.Client
}

// NewOllamaEmbedder constructs an OllamaEmbedder from the given config.
func NewOllamaEmbedder(cfg *OllamaConfig) *OllamaEmbedder {
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	return &OllamaEmbedder{
		host:   strings.TrimRight(cfg.Host, "/"),
		model:  cfg.Model,
		client: client,
	}
}

// ollamaEmbedRequest is the JSON body sent to the Ollama /api/embed endpoint.
type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// ollamaEmbedResponse is the JSON body returned from the Ollama /api/embed endpoint.
type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

// Embed returns the embedding of text.
func (e *OllamaEmbedder) Embed(ctx context.Context, _ string, text string) ([]float32, error) {
	payload, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Input: []string{text}})
	if err != nil {
		return nil, fmt.Errorf("ollama embedder: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.host+"/api/embed", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("ollama embedder: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embedder: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, ollamaError(resp)
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("ollama embedder: decode response: %w", err)
	}

	if len(result.Embeddings) != 1 || len(result.Embeddings[0]) == 0 {
		return nil, &rag.StatusError{
			Service:    "embedding",
			StatusCode: resp.StatusCode,
			Detail:     fmt.Sprintf("expected 1 embedding, got %d", len(result.Embeddings)),
		}
	}

	return result.Embeddings[0], nil
}

// ollamaError converts a failed /api/embed response. Ollama reports errors
// as {"error": "<message>"} rather than the OpenAI envelope.
func ollamaError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxOllamaErrorBody))

	var body ollamaEmbedResponse
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		return &rag.UpstreamError{Service: "embedding", StatusCode: resp.StatusCode, Message: body.Error}
	}
	return &rag.StatusError{
		Service:    "embedding",
		StatusCode: resp.StatusCode,
		Detail:     strings.TrimSpace(string(raw)),
	}
}

package embedder

import (
	"fmt"
	"net/http"

	"github.com/54b3r/docchat-go/internal/rag"
)

// Default embedding models per backend.
const (
	defaultOpenAIModel = "text-embedding-ada-002"
	defaultOllamaModel = "nomic-embed-text"
	defaultOllamaHost  = "http://localhost:11434"
)

// Config selects and configures an embedding backend.
type Config struct {
	// Provider is "openai" (default) or "ollama".
	Provider string
	// Host is the backend base URL.
	Host string
	// APIKey is the fallback key (openai only).
	APIKey string
	// Organization is the optional OpenAI organization ID.
	Organization string
	// Model overrides the backend's default embedding model.
	Model string
	// Client overrides the HTTP client.
	Client *http.Client
}

// New constructs a rag.Embedder for cfg.Provider.
func New(cfg Config) (rag.Embedder, error) {
	switch cfg.Provider {
	case "", "openai":
		if cfg.Host == "" {
			return nil, fmt.Errorf("embedder: openai requires a host")
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			Host:         cfg.Host,
			APIKey:       cfg.APIKey,
			Organization: cfg.Organization,
			Model:        orDefault(cfg.Model, defaultOpenAIModel),
			Client:       cfg.Client,
		}), nil

	case "ollama":
		return NewOllamaEmbedder(&OllamaConfig{
			Host:   orDefault(cfg.Host, defaultOllamaHost),
			Model:  orDefault(cfg.Model, defaultOllamaModel),
			Client: cfg.Client,
		}), nil

	default:
		return nil, fmt.Errorf("embedder: unknown provider %q (valid values: openai, ollama)", cfg.Provider)
	}
}

// orDefault returns v, or fallback when v is empty.
func orDefault(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

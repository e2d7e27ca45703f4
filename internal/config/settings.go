package config

import (
	"os"
	"strconv"
	"strings"
)

// Defaults applied by FromEnv when the corresponding variable is unset.
const (
	DefaultOpenAIHost        = "https://api.openai.com"
	DefaultEmbeddingModel    = "text-embedding-ada-002"
	DefaultEmbeddingProvider = "openai"
	DefaultChatModel         = "gpt-3.5-turbo"
	DefaultTemperature       = 0.5
	DefaultMaxTokens         = 2000
	DefaultNamespace         = "pdf-test"
	DefaultIndexBackend      = "pinecone"
	DefaultHistoryPolicy     = "none"
	DefaultHost              = "127.0.0.1"
	DefaultPort              = 8080
	DefaultQdrantPort        = 6334
	DefaultRateLimitRPS      = 2.0
	DefaultRateLimitBurst    = 5
)

// Settings is the typed view of the environment consumed by the commands.
// Request-scoped credentials take precedence over the fallbacks held here.
type Settings struct {
	OpenAIKey  string
	OpenAIHost string
	OpenAIOrg  string

	// EmbeddingProvider is "openai" or "ollama".
	EmbeddingProvider string
	// EmbeddingHost is the embedding backend host. Empty means OpenAIHost
	// for openai and the backend default for ollama.
	EmbeddingHost  string
	EmbeddingModel string

	ChatModel   string
	Temperature float32
	MaxTokens   int

	PineconeKey       string
	PineconeIndexURL  string
	PineconeNamespace string

	IndexBackend     string
	QdrantHost       string
	QdrantPort       int
	QdrantCollection string
	QdrantAPIKey     string
	QdrantTLS        bool

	SystemPrompt  string
	HistoryPolicy string

	Host           string
	Port           int
	RateLimitRPS   float64
	RateLimitBurst int

	HistoryDB string

	OTelEnabled  bool
	OTelEndpoint string
}

// FromEnv reads Settings from the process environment. Call it after
// LoadDotEnv and Load so file-based values have been applied.
func FromEnv() Settings {
	return Settings{
		OpenAIKey:  os.Getenv("OPENAI_API_KEY"),
		OpenAIHost: strings.TrimRight(envOr("OPENAI_API_HOST", DefaultOpenAIHost), "/"),
		OpenAIOrg:  os.Getenv("OPENAI_ORGANIZATION"),

		EmbeddingProvider: strings.ToLower(envOr("EMBEDDING_PROVIDER", DefaultEmbeddingProvider)),
		EmbeddingHost:     strings.TrimRight(os.Getenv("EMBEDDING_HOST"), "/"),
		EmbeddingModel:    envOr("EMBEDDING_MODEL", DefaultEmbeddingModel),

		ChatModel:   envOr("OPENAI_MODEL", DefaultChatModel),
		Temperature: float32(envFloat("COMPLETION_TEMPERATURE", DefaultTemperature)),
		MaxTokens:   envInt("COMPLETION_MAX_TOKENS", DefaultMaxTokens),

		PineconeKey:       os.Getenv("PINECONE_API_KEY"),
		PineconeIndexURL:  os.Getenv("PINECONE_INDEX_URL"),
		PineconeNamespace: envOr("PINECONE_NAMESPACE", DefaultNamespace),

		IndexBackend:     strings.ToLower(envOr("INDEX_BACKEND", DefaultIndexBackend)),
		QdrantHost:       os.Getenv("QDRANT_HOST"),
		QdrantPort:       envInt("QDRANT_PORT", DefaultQdrantPort),
		QdrantCollection: os.Getenv("QDRANT_COLLECTION"),
		QdrantAPIKey:     os.Getenv("QDRANT_API_KEY"),
		QdrantTLS:        envBool("QDRANT_TLS"),

		SystemPrompt:  os.Getenv("DEFAULT_SYSTEM_PROMPT"),
		HistoryPolicy: strings.ToLower(envOr("HISTORY_POLICY", DefaultHistoryPolicy)),

		Host:           envOr("DOCCHAT_HOST", DefaultHost),
		Port:           envInt("DOCCHAT_PORT", DefaultPort),
		RateLimitRPS:   envFloat("DOCCHAT_RATE_LIMIT_RPS", DefaultRateLimitRPS),
		RateLimitBurst: envInt("DOCCHAT_RATE_LIMIT_BURST", DefaultRateLimitBurst),

		HistoryDB: os.Getenv("DOCCHAT_HISTORY_DB"),

		OTelEnabled:  envBool("OTEL_ENABLED"),
		OTelEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
}

// envOr returns the named variable, or fallback when it is unset or empty.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envInt parses the named variable as a positive int, or returns fallback.
func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i > 0 {
			return i
		}
	}
	return fallback
}

// envFloat parses the named variable as a non-negative float, or returns fallback.
func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			return f
		}
	}
	return fallback
}

// envBool reports whether the named variable is a true boolean literal.
func envBool(key string) bool {
	b, _ := strconv.ParseBool(os.Getenv(key))
	return b
}

// Package config provides layered configuration for docchat.
// Precedence, lowest to highest: built-in defaults → YAML file → .env file →
// process environment. Environment variables always win.
//
// YAML search order:
//  1. --config CLI flag (explicit path)
//  2. DOCCHAT_CONFIG environment variable
//  3. ~/.docchat/config.yaml
//  4. ./docchat.yaml
//
// If no file is found the system runs entirely from env vars.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type Config struct {
	// OpenAI configures the embedding and completion service.
	OpenAI OpenAIConfig `yaml:"openai"`

	// Pinecone holds the default index coordinates used when a request omits them.
	Pinecone PineconeConfig `yaml:"pinecone"`

	// Index selects the vector index backend.
	Index IndexConfig `yaml:"index"`

	// Qdrant configures the Qdrant backend.
	Qdrant QdrantConfig `yaml:"qdrant"`

	// Prompt configures the system prompt and history policy.
	Prompt PromptConfig `yaml:"prompt"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// History configures conversation history persistence.
	History HistoryConfig `yaml:"history"`

	// Tracing configures Langfuse and OpenTelemetry.
	Tracing TracingConfig `yaml:"tracing"`
}

// OpenAIConfig holds settings for the OpenAI-compatible API.
type OpenAIConfig struct {
	// APIKey is the fallback key for requests without one. Prefer env var OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`
	// Host is the API host, e.g. https://api.openai.com.
	Host string `yaml:"host"`
	// Organization is sent as the OpenAI-Organization header when set.
	Organization string `yaml:"organization"`
	// EmbeddingProvider selects the embedding backend: "openai" or "ollama".
	EmbeddingProvider string `yaml:"embedding_provider"`
	// EmbeddingHost overrides Host for the embedding backend.
	EmbeddingHost string `yaml:"embedding_host"`
	// EmbeddingModel is the embedding model name.
	EmbeddingModel string `yaml:"embedding_model"`
	// ChatModel is the default completion model when a request names none.
	ChatModel string `yaml:"chat_model"`
	// Temperature is the sampling temperature for completions.
	Temperature float32 `yaml:"temperature"`
	// MaxTokens caps completion length.
	MaxTokens int `yaml:"max_tokens"`
}

// PineconeConfig holds the fallback Pinecone coordinates.
type PineconeConfig struct {
	// APIKey is the fallback access key. Prefer env var PINECONE_API_KEY.
	APIKey string `yaml:"api_key"`
	// IndexURL is the fallback index URL.
	IndexURL string `yaml:"index_url"`
	// Namespace is the fallback namespace.
	Namespace string `yaml:"namespace"`
}

// IndexConfig selects the vector index backend.
type IndexConfig struct {
	// Backend is "pinecone" or "qdrant".
	Backend string `yaml:"backend"`
}

// QdrantConfig holds Qdrant vector store settings.
type QdrantConfig struct {
	// Host is the Qdrant server hostname.
	Host string `yaml:"host"`
	// Port is the Qdrant gRPC port.
	Port int `yaml:"port"`
	// Collection pins every query to one collection instead of the index
	// name in the request's descriptor.
	Collection string `yaml:"collection"`
	// APIKey is the Qdrant API key. Prefer env var QDRANT_API_KEY.
	APIKey string `yaml:"api_key"`
	// TLS enables TLS for the Qdrant connection.
	TLS bool `yaml:"tls"`
}

// PromptConfig holds prompt assembly settings.
type PromptConfig struct {
	// SystemPrompt overrides the built-in system prompt template.
	SystemPrompt string `yaml:"system_prompt"`
	// HistoryPolicy is one of none, full, trim.
	HistoryPolicy string `yaml:"history_policy"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host"`
	// Port is the TCP port.
	Port int `yaml:"port"`
	// RateLimitRPS is the sustained per-IP request rate.
	RateLimitRPS float32 `yaml:"rate_limit_rps"`
	// RateLimitBurst is the per-IP burst size.
	RateLimitBurst int `yaml:"rate_limit_burst"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// HistoryConfig holds conversation history settings.
type HistoryConfig struct {
	// DBPath is the SQLite database path. Set to "disabled" to disable.
	DBPath string `yaml:"db_path"`
}

// TracingConfig holds Langfuse and OpenTelemetry settings.
type TracingConfig struct {
	// PublicKey is the Langfuse public key. Prefer env var LANGFUSE_PUBLIC_KEY.
	PublicKey string `yaml:"public_key"`
	// SecretKey is the Langfuse secret key. Prefer env var LANGFUSE_SECRET_KEY.
	SecretKey string `yaml:"secret_key"`
	// Host is the Langfuse API host.
	Host string `yaml:"host"`
	// OTelEnabled turns on OTLP span export.
	OTelEnabled bool `yaml:"otel_enabled"`
	// OTelEndpoint is the OTLP/HTTP collector endpoint (host:port).
	OTelEndpoint string `yaml:"otel_endpoint"`
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"OPENAI_API_KEY", func(c *Config) string { return c.OpenAI.APIKey }},
	{"OPENAI_API_HOST", func(c *Config) string { return c.OpenAI.Host }},
	{"OPENAI_ORGANIZATION", func(c *Config) string { return c.OpenAI.Organization }},
	{"EMBEDDING_PROVIDER", func(c *Config) string { return c.OpenAI.EmbeddingProvider }},
	{"EMBEDDING_HOST", func(c *Config) string { return c.OpenAI.EmbeddingHost }},
	{"EMBEDDING_MODEL", func(c *Config) string { return c.OpenAI.EmbeddingModel }},
	{"OPENAI_MODEL", func(c *Config) string { return c.OpenAI.ChatModel }},
	{"COMPLETION_TEMPERATURE", func(c *Config) string { return float32Str(c.OpenAI.Temperature) }},
	{"COMPLETION_MAX_TOKENS", func(c *Config) string { return intStr(c.OpenAI.MaxTokens) }},
	{"PINECONE_API_KEY", func(c *Config) string { return c.Pinecone.APIKey }},
	{"PINECONE_INDEX_URL", func(c *Config) string { return c.Pinecone.IndexURL }},
	{"PINECONE_NAMESPACE", func(c *Config) string { return c.Pinecone.Namespace }},
	{"INDEX_BACKEND", func(c *Config) string { return c.Index.Backend }},
	{"QDRANT_HOST", func(c *Config) string { return c.Qdrant.Host }},
	{"QDRANT_PORT", func(c *Config) string { return intStr(c.Qdrant.Port) }},
	{"QDRANT_COLLECTION", func(c *Config) string { return c.Qdrant.Collection }},
	{"QDRANT_API_KEY", func(c *Config) string { return c.Qdrant.APIKey }},
	{"QDRANT_TLS", func(c *Config) string { return boolStr(c.Qdrant.TLS) }},
	{"DEFAULT_SYSTEM_PROMPT", func(c *Config) string { return c.Prompt.SystemPrompt }},
	{"HISTORY_POLICY", func(c *Config) string { return c.Prompt.HistoryPolicy }},
	{"DOCCHAT_HOST", func(c *Config) string { return c.Server.Host }},
	{"DOCCHAT_PORT", func(c *Config) string { return intStr(c.Server.Port) }},
	{"DOCCHAT_RATE_LIMIT_RPS", func(c *Config) string { return float32Str(c.Server.RateLimitRPS) }},
	{"DOCCHAT_RATE_LIMIT_BURST", func(c *Config) string { return intStr(c.Server.RateLimitBurst) }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
	{"DOCCHAT_HISTORY_DB", func(c *Config) string { return c.History.DBPath }},
	{"LANGFUSE_PUBLIC_KEY", func(c *Config) string { return c.Tracing.PublicKey }},
	{"LANGFUSE_SECRET_KEY", func(c *Config) string { return c.Tracing.SecretKey }},
	{"LANGFUSE_HOST", func(c *Config) string { return c.Tracing.Host }},
	{"OTEL_ENABLED", func(c *Config) string { return boolStr(c.Tracing.OTelEnabled) }},
	{"OTEL_EXPORTER_OTLP_ENDPOINT", func(c *Config) string { return c.Tracing.OTelEndpoint }},
}

// LoadDotEnv loads KEY=VALUE pairs from the given .env files into the process
// environment without overriding variables that are already set. With no
// arguments it reads ./.env. A missing file is not an error.
func LoadDotEnv(log *slog.Logger, files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				log.Debug("config: no .env file", slog.String("path", f))
				continue
			}
			return fmt.Errorf("config: failed to load %s: %w", f, err)
		}
		log.Debug("config: loaded .env file", slog.String("path", f))
	}
	return nil
}

// Load reads a YAML config file and applies non-empty values as environment
// variables. Existing env vars are never overwritten (env always wins).
// Returns the path that was loaded, or empty string if no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(&cfg)
		if yamlVal == "" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			continue // env wins
		}
		if err := os.Setenv(m.envKey, yamlVal); err != nil {
			return "", fmt.Errorf("config: failed to set %s: %w", m.envKey, err)
		}
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("DOCCHAT_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".docchat", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("docchat.yaml"); err == nil {
		return "docchat.yaml"
	}

	return ""
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return fmt.Sprintf("%d", v)
}

// float32Str converts a float32 to string, returning "" for zero values.
func float32Str(v float32) string {
	if v == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}

// boolStr converts a bool to string, returning "" for false.
func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}

// Package tracing wires the two optional trace sinks: Langfuse, fed by eino
// generation callbacks from the completion streamer, and OpenTelemetry, fed
// by the pipeline's stage spans. Both are disabled unless configured.
package tracing

import (
	"os"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"
)

// defaultLangfuseHost is used when LANGFUSE_HOST is unset.
const defaultLangfuseHost = "http://localhost:3000"

// LangfuseConfig holds the Langfuse credentials.
type LangfuseConfig struct {
	Host      string
	PublicKey string
	SecretKey string
}

// LangfuseFromEnv reads LANGFUSE_HOST, LANGFUSE_PUBLIC_KEY and
// LANGFUSE_SECRET_KEY.
func LangfuseFromEnv() LangfuseConfig {
	return LangfuseConfig{
		Host:      os.Getenv("LANGFUSE_HOST"),
		PublicKey: os.Getenv("LANGFUSE_PUBLIC_KEY"),
		SecretKey: os.Getenv("LANGFUSE_SECRET_KEY"),
	}
}

// Enabled reports whether both keys are present.
func (c LangfuseConfig) Enabled() bool {
	return c.PublicKey != "" && c.SecretKey != ""
}

// SetupLangfuse returns a callback handler for the completion streamer and a
// flush function that must be called before process exit. When cfg is not
// enabled both are nil and ok is false.
func SetupLangfuse(cfg LangfuseConfig) (handler callbacks.Handler, flush func(), ok bool) {
	if !cfg.Enabled() {
		return nil, nil, false
	}
	host := cfg.Host
	if host == "" {
		host = defaultLangfuseHost
	}

	handler, flush = langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      host,
		PublicKey: cfg.PublicKey,
		SecretKey: cfg.SecretKey,
	})
	return handler, flush, true
}

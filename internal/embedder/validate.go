package embedder

import (
	"log/slog"
	"strings"
)

// knownChatModelPrefixes contains name fragments that identify chat/completion
// models which are NOT suitable for embedding.
var knownChatModelPrefixes = []string{
	"gpt-4",
	"gpt-3.5",
	"gpt-35",
	"o1",
	"o3",
	"llama3",
	"llama2",
	"llama-3",
	"llama-2",
	"mistral",
	"mixtral",
	"gemma",
	"phi-",
	"phi3",
	"claude",
	"command-r",
	"deepseek",
	"qwen",
}

// looksLikeChatModel returns true when the model name resembles a known
// chat/completion model rather than a dedicated embedding model.
func looksLikeChatModel(model string) bool {
	lower := strings.ToLower(model)
	if strings.Contains(lower, "embed") {
		return false
	}
	for _, prefix := range knownChatModelPrefixes {
		if strings.Contains(lower, prefix) {
			return true
		}
	}
	return false
}

// ValidateModel logs a warning when model looks like a chat model. The vectors
// it produces would not match those written by the ingestion job, so every
// retrieval would silently return poor matches. It reports whether the model
// passed the check.
func ValidateModel(log *slog.Logger, model string) bool {
	if model == "" || !looksLikeChatModel(model) {
		return true
	}
	log.Warn("embedder: EMBEDDING_MODEL looks like a chat model, not an embedding model; "+
		"retrieval will likely return irrelevant passages",
		slog.String("model", model),
		slog.String("hint", "use the model the index was built with, e.g. text-embedding-ada-002"),
	)
	return false
}

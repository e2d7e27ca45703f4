// Package audit logs what a docchat command was started with: the command,
// the config file in effect, and the operational environment. Credentials are
// recorded as presence or absence only, never by value.
package audit

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// auditEntry is one environment variable included in the audit record.
type auditEntry struct {
	key    string
	secret bool
}

// auditKeys is the ordered list of variables included in every record.
var auditKeys = []auditEntry{
	{"OPENAI_API_KEY", true},
	{"OPENAI_API_HOST", false},
	{"OPENAI_ORGANIZATION", false},
	{"OPENAI_MODEL", false},
	{"EMBEDDING_PROVIDER", false},
	{"EMBEDDING_HOST", false},
	{"EMBEDDING_MODEL", false},
	{"COMPLETION_TEMPERATURE", false},
	{"COMPLETION_MAX_TOKENS", false},
	{"PINECONE_API_KEY", true},
	{"PINECONE_INDEX_URL", false},
	{"PINECONE_NAMESPACE", false},
	{"INDEX_BACKEND", false},
	{"QDRANT_HOST", false},
	{"QDRANT_PORT", false},
	{"QDRANT_COLLECTION", false},
	{"QDRANT_API_KEY", true},
	{"HISTORY_POLICY", false},
	{"DOCCHAT_HISTORY_DB", false},
	{"LOG_LEVEL", false},
	{"LOG_FORMAT", false},
	{"LANGFUSE_PUBLIC_KEY", true},
	{"LANGFUSE_SECRET_KEY", true},
	{"OTEL_ENABLED", false},
	{"OTEL_EXPORTER_OTLP_ENDPOINT", false},
}

// secretSuffixes mark variables whose values must never be logged, including
// ones not listed in auditKeys.
var secretSuffixes = []string{"_API_KEY", "_SECRET_KEY", "_PUBLIC_KEY", "_TOKEN", "_PASSWORD"}

// LogCommandStart emits one structured audit record when a CLI command begins.
func LogCommandStart(log *slog.Logger, command string, configPath string) {
	attrs := make([]slog.Attr, 0, len(auditKeys)+2)
	attrs = append(attrs,
		slog.String("command", command),
		slog.String("config_file", sanitiseConfigPath(configPath)),
	)

	for _, entry := range auditKeys {
		val := os.Getenv(entry.key)
		if entry.secret {
			attrs = append(attrs, slog.String(entry.key, presence(val)))
		} else {
			attrs = append(attrs, slog.String(entry.key, valOrUnset(val)))
		}
	}

	log.LogAttrs(context.Background(), slog.LevelInfo, "audit: command start", attrs...)
}

// IsSecret reports whether key names a credential.
func IsSecret(key string) bool {
	for _, e := range auditKeys {
		if e.key == key {
			return e.secret
		}
	}
	for _, suffix := range secretSuffixes {
		if strings.HasSuffix(key, suffix) {
			return true
		}
	}
	return false
}

// SanitiseKey returns "set" or "unset" for secret keys, or the value itself
// for anything else. The result is safe to log.
func SanitiseKey(key, value string) string {
	if IsSecret(key) {
		return presence(value)
	}
	return valOrUnset(value)
}

// presence returns "set" if the value is non-empty, "unset" otherwise.
func presence(v string) string {
	if v != "" {
		return "set"
	}
	return "unset"
}

// valOrUnset returns the value if non-empty, "unset" otherwise.
func valOrUnset(v string) string {
	if v != "" {
		return v
	}
	return "unset"
}

// sanitiseConfigPath returns the config path with the home directory folded
// to "~", or "none" if empty.
func sanitiseConfigPath(p string) string {
	if p == "" {
		return "none"
	}
	home, err := os.UserHomeDir()
	if err == nil && home != "" && strings.HasPrefix(p, home) {
		return "~" + p[len(home):]
	}
	return p
}

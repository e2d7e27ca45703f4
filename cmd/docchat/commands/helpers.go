package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/callbacks"

	"github.com/54b3r/docchat-go/internal/budget"
	"github.com/54b3r/docchat-go/internal/completion"
	"github.com/54b3r/docchat-go/internal/config"
	"github.com/54b3r/docchat-go/internal/descriptor"
	"github.com/54b3r/docchat-go/internal/embedder"
	"github.com/54b3r/docchat-go/internal/index"
	"github.com/54b3r/docchat-go/internal/pipeline"
	"github.com/54b3r/docchat-go/internal/prompt"
	"github.com/54b3r/docchat-go/internal/rag"
	"github.com/54b3r/docchat-go/internal/server"
	"github.com/54b3r/docchat-go/internal/store"
	"github.com/54b3r/docchat-go/internal/tokenizer"
	"github.com/54b3r/docchat-go/internal/tracing"
)

// historyDisabled turns the conversation store off when set as
// DOCCHAT_HISTORY_DB.
const historyDisabled = "disabled"

// stack is everything a command needs to run the pipeline.
type stack struct {
	orchestrator *pipeline.Orchestrator
	// pinecone is set when the pinecone backend is selected; it also
	// serves index statistics.
	pinecone *index.PineconeIndex
	qdrant   *index.QdrantIndex
	pingers  []server.Pinger
	closers  []func() error
}

// Close releases backend connections in reverse order of creation.
func (s *stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i]()
	}
}

// statsProber returns the index statistics prober, or nil when the selected
// backend has none.
func (s *stack) statsProber() server.StatsProber {
	if s.pinecone == nil {
		return nil
	}
	return s.pinecone
}

// buildStack wires the embedder, index, prompt assembler, history policy and
// completion streamer selected by settings into an Orchestrator. observer may
// be nil. handlers receive eino callbacks for every completion.
func buildStack(settings config.Settings, log *slog.Logger, observer pipeline.Observer, handlers ...callbacks.Handler) (*stack, error) {
	st := &stack{}

	embedHost := settings.EmbeddingHost
	if embedHost == "" && settings.EmbeddingProvider == config.DefaultEmbeddingProvider {
		embedHost = settings.OpenAIHost
	}
	emb, err := embedder.New(embedder.Config{
		Provider:     settings.EmbeddingProvider,
		Host:         embedHost,
		APIKey:       settings.OpenAIKey,
		Organization: settings.OpenAIOrg,
		Model:        settings.EmbeddingModel,
	})
	if err != nil {
		return nil, err
	}
	embedder.ValidateModel(log, settings.EmbeddingModel)

	// Without a fallback key every request brings its own, so there is
	// nothing to probe.
	if settings.OpenAIKey != "" {
		st.pingers = append(st.pingers, server.NewOpenAIPinger(settings.OpenAIHost, settings.OpenAIKey, nil))
	}

	querier, err := st.buildIndex(settings, log)
	if err != nil {
		st.Close()
		return nil, err
	}

	var counter budget.Counter
	if tc, tErr := tokenizer.ForModel(settings.ChatModel); tErr != nil {
		log.Warn("tokenizer: falling back to heuristic counting",
			slog.String("model", settings.ChatModel), slog.Any("error", tErr))
		counter = budget.HeuristicCounter{}
	} else {
		counter = tc
	}

	policy, err := budget.Parse(settings.HistoryPolicy, counter)
	if err != nil {
		st.Close()
		return nil, err
	}

	streamer := completion.NewStreamer(completion.Config{
		Host:         settings.OpenAIHost,
		APIKey:       settings.OpenAIKey,
		Organization: settings.OpenAIOrg,
		Temperature:  settings.Temperature,
		MaxTokens:    settings.MaxTokens,
		Handlers:     handlers,
	})

	orch, err := pipeline.New(pipeline.Config{
		Embedder:  emb,
		Index:     querier,
		Completer: streamer,
		Assembler: prompt.NewAssembler(settings.SystemPrompt, counter),
		Counter:   counter,
		Policy:    policy,
		Defaults: pipeline.Defaults{
			OpenAIKey: settings.OpenAIKey,
			ChatModel: settings.ChatModel,
			IndexKey:  settings.PineconeKey,
			IndexURL:  settings.PineconeIndexURL,
			Namespace: settings.PineconeNamespace,
		},
		Observer: observer,
	})
	if err != nil {
		st.Close()
		return nil, err
	}
	st.orchestrator = orch

	log.Info("pipeline ready",
		slog.String("embedding_provider", settings.EmbeddingProvider),
		slog.String("index_backend", settings.IndexBackend),
		slog.String("history_policy", policy.Name()),
		slog.String("chat_model", settings.ChatModel),
	)
	return st, nil
}

// buildIndex constructs the querier for settings.IndexBackend and registers
// its readiness probe.
func (s *stack) buildIndex(settings config.Settings, log *slog.Logger) (rag.Querier, error) {
	switch settings.IndexBackend {
	case "", config.DefaultIndexBackend:
		pc := index.NewPinecone()
		s.pinecone = pc
		if settings.PineconeIndexURL != "" && settings.PineconeKey != "" {
			d, err := descriptor.Resolve(settings.PineconeIndexURL, settings.PineconeKey)
			if err != nil {
				log.Warn("pinecone: default index unusable, readiness probe skipped", slog.Any("error", err))
			} else {
				s.pingers = append(s.pingers, index.NewPineconePinger(pc, d))
			}
		}
		return pc, nil

	case "qdrant":
		q, err := index.NewQdrant(&index.QdrantConfig{
			Host:       settings.QdrantHost,
			Port:       settings.QdrantPort,
			Collection: settings.QdrantCollection,
			APIKey:     settings.QdrantAPIKey,
			UseTLS:     settings.QdrantTLS,
		})
		if err != nil {
			return nil, err
		}
		s.qdrant = q
		s.closers = append(s.closers, q.Close)
		s.pingers = append(s.pingers, index.NewQdrantPinger(q.Client()))
		return q, nil

	default:
		return nil, fmt.Errorf("index: unknown backend %q (valid values: pinecone, qdrant)", settings.IndexBackend)
	}
}

// setupTracing enables Langfuse and OpenTelemetry when configured. The
// returned handlers go to the completion streamer; shutdown flushes both.
func setupTracing(ctx context.Context, settings config.Settings, log *slog.Logger) ([]callbacks.Handler, func()) {
	var handlers []callbacks.Handler
	var flushes []func()

	if handler, flush, ok := tracing.SetupLangfuse(tracing.LangfuseFromEnv()); ok {
		handlers = append(handlers, handler)
		flushes = append(flushes, flush)
		log.Info("langfuse tracing enabled")
	} else {
		log.Debug("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
	}

	shutdownOTel, err := tracing.InitTracer(ctx, tracing.OTelConfig{
		Enabled:  settings.OTelEnabled,
		Endpoint: settings.OTelEndpoint,
	}, log)
	if err != nil {
		log.Warn("opentelemetry disabled", slog.Any("error", err))
	}

	return handlers, func() {
		for _, f := range flushes {
			f()
		}
		// The signal context may already be cancelled.
		if err := shutdownOTel(context.WithoutCancel(ctx)); err != nil {
			log.Warn("opentelemetry shutdown", slog.Any("error", err))
		}
	}
}

// openHistory opens the conversation store named by settings.HistoryDB, the
// default path when it is empty.
func openHistory(settings config.Settings) (*store.SQLiteStore, error) {
	path := settings.HistoryDB
	if path == historyDisabled {
		return nil, errors.New("history: disabled via DOCCHAT_HISTORY_DB=disabled")
	}
	if path == "" {
		var err error
		if path, err = store.DefaultDBPath(); err != nil {
			return nil, err
		}
	}
	return store.Open(path)
}

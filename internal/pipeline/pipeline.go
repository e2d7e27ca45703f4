// Package pipeline runs one retrieval-augmented chat turn end to end:
// resolve the index, embed the question, retrieve and select context,
// assemble the prompt, and open the framed completion stream.
//
// Stages run strictly in sequence on the caller's goroutine. The first
// failure ends the run and no later stage is attempted; nothing is retried.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cloudwego/eino/schema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/54b3r/docchat-go/internal/budget"
	"github.com/54b3r/docchat-go/internal/completion"
	"github.com/54b3r/docchat-go/internal/descriptor"
	"github.com/54b3r/docchat-go/internal/logging"
	"github.com/54b3r/docchat-go/internal/prompt"
	"github.com/54b3r/docchat-go/internal/rag"
)

// tracerName identifies spans emitted by this package.
const tracerName = "github.com/54b3r/docchat-go/internal/pipeline"

// DefaultTokenLimit is assumed when a request names no model token limit.
const DefaultTokenLimit = 4096

// Conversation roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one message of the conversation. Citations is the JSON citation
// array an assistant turn was answered with; it is carried for the caller's
// store and never sent to the model.
type Turn struct {
	Role      string `json:"role" validate:"required,oneof=user assistant"`
	Content   string `json:"content"`
	Citations string `json:"citations,omitempty"`
}

// Model identifies the completion model.
type Model struct {
	ID         string `json:"id"`
	TokenLimit int    `json:"tokenLimit" validate:"gte=0"`
}

// IndexTarget locates the vector index for a request.
type IndexTarget struct {
	APIKey    string `json:"apikey"`
	IndexURL  string `json:"indexURL"`
	Namespace string `json:"namespace,omitempty"`
}

// Request is one chat turn. Blank credentials fall back to Defaults.
type Request struct {
	Model     Model       `json:"model"`
	Messages  []Turn      `json:"messages" validate:"required,min=1,dive"`
	OpenAIKey string      `json:"openAIkey"`
	Index     IndexTarget `json:"pineconeEnv"`
}

// Result is a successfully opened stream.
type Result struct {
	// Stream yields the citation header, the sentinel, then answer text.
	// The caller must close it.
	Stream io.ReadCloser

	// Citations are the records framed into the stream header.
	Citations []rag.Citation

	// PromptTokens is the token cost of the system prompt.
	PromptTokens int

	// HistoryTokens is the token cost of the turns before the question,
	// whether or not the history policy sent them.
	HistoryTokens int

	// SentTurns is the number of prior turns sent with the system prompt.
	SentTurns int
}

// Completer opens a framed completion stream.
type Completer interface {
	Stream(ctx context.Context, req completion.Request) (io.ReadCloser, error)
}

// Defaults supply request fields the caller left blank.
type Defaults struct {
	OpenAIKey  string
	ChatModel  string
	TokenLimit int
	IndexKey   string
	IndexURL   string
	Namespace  string
}

// Config wires an Orchestrator.
type Config struct {
	Embedder  rag.Embedder
	Index     rag.Querier
	Completer Completer
	Assembler *prompt.Assembler
	Counter   budget.Counter

	// Policy selects prior turns. Nil sends none.
	Policy budget.Policy

	// Defaults fill blank request fields.
	Defaults Defaults

	// Observer, when set, sees every state transition.
	Observer Observer

	// Tracer overrides the global OpenTelemetry tracer.
	Tracer trace.Tracer
}

// Orchestrator runs pipeline requests. It holds no per-request state and is
// safe for concurrent use.
type Orchestrator struct {
	embedder  rag.Embedder
	index     rag.Querier
	completer Completer
	assembler *prompt.Assembler
	counter   budget.Counter
	policy    budget.Policy
	defaults  Defaults
	observer  Observer
	tracer    trace.Tracer
}

// New validates cfg and returns an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	switch {
	case cfg.Embedder == nil:
		return nil, errors.New("pipeline: embedder is required")
	case cfg.Index == nil:
		return nil, errors.New("pipeline: index is required")
	case cfg.Completer == nil:
		return nil, errors.New("pipeline: completer is required")
	case cfg.Assembler == nil:
		return nil, errors.New("pipeline: assembler is required")
	}

	o := &Orchestrator{
		embedder:  cfg.Embedder,
		index:     cfg.Index,
		completer: cfg.Completer,
		assembler: cfg.Assembler,
		counter:   cfg.Counter,
		policy:    cfg.Policy,
		defaults:  cfg.Defaults,
		observer:  cfg.Observer,
		tracer:    cfg.Tracer,
	}
	if o.counter == nil {
		o.counter = budget.HeuristicCounter{}
	}
	if o.policy == nil {
		o.policy, _ = budget.Parse(budget.ModeNone, nil)
	}
	if o.defaults.TokenLimit <= 0 {
		o.defaults.TokenLimit = DefaultTokenLimit
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}
	return o, nil
}

// run carries the state of one request through the stages.
type run struct {
	o     *Orchestrator
	log   *slog.Logger
	state State
}

// Run executes the pipeline for req. On success the returned stream is open
// and the run is Done; the caller owns the stream. On failure the error is a
// *StageError naming the failed stage, wrapping the component's error.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	ctx, span := o.tracer.Start(ctx, "pipeline.Run")
	defer span.End()

	r := &run{o: o, log: logging.FromContext(ctx), state: Idle}
	start := time.Now()

	res, err := r.execute(ctx, o.withDefaults(req))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.log.Warn("pipeline: run failed",
			slog.String("stage", StageOf(err).String()),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("docchat.citations", len(res.Citations)),
		attribute.Int("docchat.prompt_tokens", res.PromptTokens),
	)
	r.log.Info("pipeline: stream opened",
		slog.Int("citations", len(res.Citations)),
		slog.Int("prompt_tokens", res.PromptTokens),
		slog.Int("history_tokens", res.HistoryTokens),
		slog.Int("sent_turns", res.SentTurns),
		slog.Duration("duration", time.Since(start)),
	)
	return res, nil
}

func (r *run) execute(ctx context.Context, req Request) (*Result, error) {
	question, err := lastQuestion(req.Messages)
	if err != nil {
		return nil, r.fail(ctx, err)
	}

	var target descriptor.Descriptor
	err = r.stage(ctx, Resolving, func(context.Context) error {
		target, err = descriptor.Resolve(req.Index.IndexURL, req.Index.APIKey)
		return err
	})
	if err != nil {
		return nil, err
	}

	var vector []float32
	err = r.stage(ctx, Embedding, func(ctx context.Context) error {
		vector, err = r.o.embedder.Embed(ctx, req.OpenAIKey, question)
		return err
	})
	if err != nil {
		return nil, err
	}

	var matches []rag.Match
	err = r.stage(ctx, Retrieving, func(ctx context.Context) error {
		matches, err = r.o.index.Query(ctx, rag.Query{
			Target:    target,
			Vector:    vector,
			TopK:      rag.DefaultTopK,
			Namespace: req.Index.Namespace,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	var passages []rag.Passage
	var citations []rag.Citation
	err = r.stage(ctx, Selecting, func(context.Context) error {
		var found bool
		passages, citations, found = rag.Select(matches)
		if !found {
			r.log.Info("pipeline: no passage passed selection", slog.Int("matches", len(matches)))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var assembled prompt.Assembled
	var history []*schema.Message
	var historyTokens int
	err = r.stage(ctx, Assembling, func(context.Context) error {
		assembled = r.o.assembler.Assemble(question, passages)
		// The question is already inside the system prompt.
		turns := toMessages(req.Messages[:len(req.Messages)-1])
		historyTokens = budget.HistoryTokens(r.o.counter, turns)
		history = r.o.policy.Select(turns, assembled.TokenCount, req.Model.TokenLimit)
		r.log.Debug("pipeline: prompt assembled",
			slog.Int("prompt_tokens", assembled.TokenCount),
			slog.Int("history_tokens", historyTokens),
			slog.String("history_policy", r.o.policy.Name()),
			slog.Int("token_limit", req.Model.TokenLimit),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}

	var stream io.ReadCloser
	err = r.stage(ctx, Streaming, func(ctx context.Context) error {
		stream, err = r.o.completer.Stream(ctx, completion.Request{
			Model:        req.Model.ID,
			SystemPrompt: assembled.SystemContent,
			APIKey:       req.OpenAIKey,
			History:      history,
			Citations:    citations,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	r.transition(ctx, Done, nil)
	return &Result{
		Stream:        stream,
		Citations:     citations,
		PromptTokens:  assembled.TokenCount,
		HistoryTokens: historyTokens,
		SentTurns:     len(history),
	}, nil
}

// stage enters state s, runs fn inside a span, and fails the run on error.
func (r *run) stage(ctx context.Context, s State, fn func(context.Context) error) error {
	r.transition(ctx, s, nil)

	ctx, span := r.o.tracer.Start(ctx, "pipeline."+s.String())
	defer span.End()

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return r.fail(ctx, err)
	}
	return nil
}

// fail moves the run to Failed and returns the wrapped error.
func (r *run) fail(ctx context.Context, err error) error {
	stageErr := &StageError{Stage: r.state, Err: err}
	r.transition(ctx, Failed, stageErr)
	return stageErr
}

// transition records a state change.
func (r *run) transition(ctx context.Context, to State, err error) {
	from := r.state
	r.state = to
	r.log.Debug("pipeline: transition",
		slog.String("from", from.String()),
		slog.String("to", to.String()),
	)
	if r.o.observer != nil {
		r.o.observer(ctx, from, to, err)
	}
}

// withDefaults fills blank request fields from the configured defaults.
func (o *Orchestrator) withDefaults(req Request) Request {
	if req.OpenAIKey == "" {
		req.OpenAIKey = o.defaults.OpenAIKey
	}
	if req.Model.ID == "" {
		req.Model.ID = o.defaults.ChatModel
	}
	if req.Model.TokenLimit <= 0 {
		req.Model.TokenLimit = o.defaults.TokenLimit
	}
	if req.Index.APIKey == "" {
		req.Index.APIKey = o.defaults.IndexKey
	}
	if req.Index.IndexURL == "" {
		req.Index.IndexURL = o.defaults.IndexURL
	}
	if req.Index.Namespace == "" {
		req.Index.Namespace = o.defaults.Namespace
	}
	return req
}

// lastQuestion returns the content of the final turn, which must be a user turn.
func lastQuestion(turns []Turn) (string, error) {
	if len(turns) == 0 {
		return "", rag.ErrNoQuestion
	}
	last := turns[len(turns)-1]
	if last.Role != RoleUser {
		return "", fmt.Errorf("last turn has role %q: %w", last.Role, rag.ErrNoQuestion)
	}
	return last.Content, nil
}

// toMessages converts conversation turns to chat messages.
func toMessages(turns []Turn) []*schema.Message {
	msgs := make([]*schema.Message, 0, len(turns))
	for _, t := range turns {
		if t.Role == RoleAssistant {
			msgs = append(msgs, schema.AssistantMessage(t.Content, nil))
			continue
		}
		msgs = append(msgs, schema.UserMessage(t.Content))
	}
	return msgs
}

// StageOf returns the stage recorded in a Run error, or Failed when err
// carries none.
func StageOf(err error) State {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return Failed
}

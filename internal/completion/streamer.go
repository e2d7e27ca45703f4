// Package completion streams chat completions from an OpenAI-compatible
// service and frames them for the caller: a citation header, a sentinel,
// then the answer text in arrival order.
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/docchat-go/internal/rag"
	"github.com/54b3r/docchat-go/internal/version"
)

// Completion defaults. DefaultMaxTokens is applied when Config.MaxTokens is zero.
const (
	DefaultMaxTokens   = 2000
	DefaultTemperature = 0.5
)

// Config holds the settings for constructing a Streamer.
type Config struct {
	// Host is the API host without the /v1 suffix.
	Host string
	// APIKey is the fallback key for requests that carry none.
	APIKey string
	// Organization is sent as OpenAI-Organization when non-empty.
	Organization string
	// Temperature is the sampling temperature, sent as given. Callers
	// normally pass DefaultTemperature.
	Temperature float32
	// MaxTokens caps the completion length. Zero selects DefaultMaxTokens.
	MaxTokens int
	// Client overrides the HTTP client. It must not set a timeout shorter
	// than the longest expected answer.
	Client *http.Client
	// Handlers receive generation start/end/error callbacks in addition to
	// any globally registered handlers.
	Handlers []callbacks.Handler
}

// Streamer issues streaming chat completion requests. It is safe for
// concurrent use.
type Streamer struct {
	host         string
	apiKey       string
	organization string
	temperature  float32
	maxTokens    int
	client       *http.Client
	handlers     []callbacks.Handler
}

// NewStreamer constructs a Streamer from cfg.
func NewStreamer(cfg Config) *Streamer {
	s := &Streamer{
		host:         strings.TrimRight(cfg.Host, "/"),
		apiKey:       cfg.APIKey,
		organization: cfg.Organization,
		temperature:  cfg.Temperature,
		maxTokens:    cfg.MaxTokens,
		client:       cfg.Client,
		handlers:     cfg.Handlers,
	}
	if s.maxTokens <= 0 {
		s.maxTokens = DefaultMaxTokens
	}
	if s.client == nil {
		s.client = &http.Client{}
	}
	return s
}

// Request is one streaming completion.
type Request struct {
	// Model is the completion model ID.
	Model string
	// SystemPrompt is sent as the first message.
	SystemPrompt string
	// APIKey authenticates the call. Empty falls back to the configured key.
	APIKey string
	// History holds prior turns sent after the system prompt, oldest first.
	History []*schema.Message
	// Citations are framed into the stream header.
	Citations []rag.Citation
}

// wireMessage is one chat message on the wire.
type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is the JSON body sent to /v1/chat/completions.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float32       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

// Stream starts a completion and returns the framed byte stream. The header
// is encoded before the upstream call, so a header failure costs nothing.
// The returned reader yields the header, then answer deltas, then io.EOF at
// the upstream [DONE] marker. Closing it closes the upstream connection.
func (s *Streamer) Stream(ctx context.Context, req Request) (io.ReadCloser, error) {
	header, err := EncodeHeader(req.Citations)
	if err != nil {
		return nil, err
	}

	messages := make([]*schema.Message, 0, len(req.History)+1)
	messages = append(messages, schema.SystemMessage(req.SystemPrompt))
	messages = append(messages, req.History...)

	cfg := &model.Config{
		Model:       req.Model,
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
	}
	ctx = callbacks.InitCallbacks(ctx, &callbacks.RunInfo{
		Name:      "docchat-completion",
		Type:      "OpenAICompatible",
		Component: components.ComponentOfChatModel,
	}, s.handlers...)
	ctx = callbacks.OnStart(ctx, &model.CallbackInput{Messages: messages, Config: cfg})

	resp, err := s.send(ctx, req, messages)
	if err != nil {
		callbacks.OnError(ctx, err)
		return nil, err
	}

	events := newEventStream(resp.Body, func(content string, err error) {
		if err != nil {
			callbacks.OnError(ctx, err)
			return
		}
		callbacks.OnEnd(ctx, &model.CallbackOutput{
			Message: schema.AssistantMessage(content, nil),
			Config:  cfg,
		})
	})

	return &framedStream{header: bytes.NewReader(header), events: events}, nil
}

// send issues the HTTP request and returns the response on HTTP 200.
func (s *Streamer) send(ctx context.Context, req Request, messages []*schema.Message) (*http.Response, error) {
	body := chatRequest{
		Model:       req.Model,
		Messages:    make([]wireMessage, 0, len(messages)),
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
		Stream:      true,
	}
	for _, m := range messages {
		body.Messages = append(body.Messages, wireMessage{Role: string(m.Role), Content: m.Content})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("completion: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.host+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("completion: create request: %w", err)
	}

	apiKey := req.APIKey
	if apiKey == "" {
		apiKey = s.apiKey
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", version.UserAgent())
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	if s.organization != "" {
		httpReq.Header.Set("OpenAI-Organization", s.organization)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("completion: request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, rag.ErrorFromResponse("completion", resp)
	}
	return resp, nil
}

// framedStream yields the header bytes, then the decoded answer deltas.
type framedStream struct {
	header *bytes.Reader
	events *eventStream
}

func (f *framedStream) Read(p []byte) (int, error) {
	if f.header.Len() > 0 {
		return f.header.Read(p)
	}
	return f.events.Read(p)
}

func (f *framedStream) Close() error {
	return f.events.Close()
}

package embedder

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/54b3r/docchat-go/internal/rag"
)

// ---------------------------------------------------------------------------
// OpenAIEmbedder
// ---------------------------------------------------------------------------

func TestOpenAIEmbedder_Embed(t *testing.T) {
	t.Parallel()

	var gotAuth, gotOrg string
	var gotBody openaiEmbedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/embeddings" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		gotOrg = r.Header.Get("OpenAI-Organization")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"data":[{"embedding":[0.1,0.2,0.3],"index":0}]}`)
	}))
	defer srv.Close()

	emb := NewOpenAIEmbedder(&OpenAIConfig{
		Host:         srv.URL + "/",
		Organization: "org-1",
		Model:        defaultOpenAIModel,
	})

	vec, err := emb.Embed(context.Background(), "sk-test", "What is the refund window?")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 || vec[1] != 0.2 {
		t.Errorf("unexpected vector %v", vec)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization: got %q", gotAuth)
	}
	if gotOrg != "org-1" {
		t.Errorf("OpenAI-Organization: got %q", gotOrg)
	}
	if gotBody.Model != "text-embedding-ada-002" || gotBody.Input != "What is the refund window?" {
		t.Errorf("unexpected request body %+v", gotBody)
	}
}

func TestOpenAIEmbedder_FallbackKey(t *testing.T) {
	t.Parallel()

	var gotAuth string
	var gotOrg []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotOrg = r.Header.Values("OpenAI-Organization")
		_, _ = io.WriteString(w, `{"data":[{"embedding":[1],"index":0}]}`)
	}))
	defer srv.Close()

	emb := NewOpenAIEmbedder(&OpenAIConfig{Host: srv.URL, APIKey: "sk-default", Model: "m"})
	if _, err := emb.Embed(context.Background(), "", "q"); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if gotAuth != "Bearer sk-default" {
		t.Errorf("Authorization: got %q", gotAuth)
	}
	if len(gotOrg) != 0 {
		t.Errorf("OpenAI-Organization should be absent, got %v", gotOrg)
	}
}

func TestOpenAIEmbedder_UpstreamError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`)
	}))
	defer srv.Close()

	emb := NewOpenAIEmbedder(&OpenAIConfig{Host: srv.URL, Model: "m"})
	_, err := emb.Embed(context.Background(), "bad", "q")

	var upErr *rag.UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("want *rag.UpstreamError, got %T: %v", err, err)
	}
	if upErr.Message != "Incorrect API key provided" || upErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("unexpected error %+v", upErr)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("expected exactly one call (no retry), got %d", n)
	}
}

func TestOpenAIEmbedder_UnparseableError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, "upstream unavailable")
	}))
	defer srv.Close()

	emb := NewOpenAIEmbedder(&OpenAIConfig{Host: srv.URL, Model: "m"})
	_, err := emb.Embed(context.Background(), "k", "q")

	var statusErr *rag.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("want *rag.StatusError, got %T: %v", err, err)
	}
	if statusErr.StatusCode != http.StatusBadGateway || statusErr.Service != "embedding" {
		t.Errorf("unexpected error %+v", statusErr)
	}
}

func TestOpenAIEmbedder_EmptyData(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"data":[]}`)
	}))
	defer srv.Close()

	emb := NewOpenAIEmbedder(&OpenAIConfig{Host: srv.URL, Model: "m"})
	_, err := emb.Embed(context.Background(), "k", "q")

	var statusErr *rag.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("want *rag.StatusError, got %T: %v", err, err)
	}
	if statusErr.StatusCode != http.StatusOK {
		t.Errorf("StatusCode: got %d", statusErr.StatusCode)
	}
}

func TestOpenAIEmbedder_ContextCancelled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"data":[{"embedding":[1]}]}`)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	emb := NewOpenAIEmbedder(&OpenAIConfig{Host: srv.URL, Model: "m"})
	if _, err := emb.Embed(ctx, "k", "q"); !errors.Is(err, context.Canceled) {
		t.Errorf("want context.Canceled, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// OllamaEmbedder
// ---------------------------------------------------------------------------

func TestOllamaEmbedder_Embed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body ollamaEmbedRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if len(body.Input) != 1 || body.Input[0] != "hello" {
			t.Errorf("unexpected input %v", body.Input)
		}
		_, _ = io.WriteString(w, `{"embeddings":[[0.5,0.25]]}`)
	}))
	defer srv.Close()

	emb := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "nomic-embed-text"})
	vec, err := emb.Embed(context.Background(), "ignored", "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 2 || vec[0] != 0.5 {
		t.Errorf("unexpected vector %v", vec)
	}
}

func TestOllamaEmbedder_Error(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"model not found"}`)
	}))
	defer srv.Close()

	emb := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "missing"})
	_, err := emb.Embed(context.Background(), "", "hello")
	var ue *rag.UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected *rag.UpstreamError, got %T: %v", err, err)
	}
	if ue.StatusCode != http.StatusNotFound || ue.Message != "model not found" {
		t.Errorf("unexpected error %+v", ue)
	}
}

func TestOllamaEmbedder_UnparseableErrorAndEmptyResult(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Empty") != "" {
			_, _ = io.WriteString(w, `{"embeddings":[]}`)
			return
		}
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, "upstream down")
	}))
	defer srv.Close()

	emb := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "nomic-embed-text", Client: srv.Client()})

	_, err := emb.Embed(context.Background(), "", "hello")
	var se *rag.StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusBadGateway || se.Detail != "upstream down" {
		t.Fatalf("expected StatusError 502, got %T: %v", err, err)
	}

	emb.client = &http.Client{Transport: headerTransport{key: "X-Empty", base: srv.Client().Transport}}
	_, err = emb.Embed(context.Background(), "", "hello")
	if !errors.As(err, &se) || se.StatusCode != http.StatusOK {
		t.Fatalf("expected StatusError 200 for empty embeddings, got %T: %v", err, err)
	}
}

// headerTransport sets a marker header on every request.
type headerTransport struct {
	key  string
	base http.RoundTripper
}

func (h headerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set(h.key, "1")
	return h.base.RoundTrip(r)
}

// ---------------------------------------------------------------------------
// Factory & validation
// ---------------------------------------------------------------------------

func TestNew(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{Host: "https://api.openai.com"}); err != nil {
		t.Errorf("openai default: %v", err)
	}
	if _, err := New(Config{Provider: "openai"}); err == nil {
		t.Error("openai without host should fail")
	}
	emb, err := New(Config{Provider: "ollama"})
	if err != nil {
		t.Fatalf("ollama: %v", err)
	}
	if o, ok := emb.(*OllamaEmbedder); !ok || o.host != defaultOllamaHost || o.model != defaultOllamaModel {
		t.Errorf("ollama defaults not applied: %+v", emb)
	}
	if _, err := New(Config{Provider: "bedrock"}); err == nil {
		t.Error("unknown provider should fail")
	}
}

func TestValidateModel(t *testing.T) {
	t.Parallel()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cases := map[string]bool{
		"":                       true,
		"text-embedding-ada-002": true,
		"text-embedding-3-small": true,
		"nomic-embed-text":       true,
		"gpt-4o":                 false,
		"llama3:8b":              false,
	}
	for model, want := range cases {
		if got := ValidateModel(log, model); got != want {
			t.Errorf("ValidateModel(%q) = %v, want %v", model, got, want)
		}
	}
}

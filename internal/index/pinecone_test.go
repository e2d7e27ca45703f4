package index

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/54b3r/docchat-go/internal/descriptor"
	"github.com/54b3r/docchat-go/internal/rag"
)

// testDescriptor returns a resolved descriptor for a fictional index.
func testDescriptor(t *testing.T) descriptor.Descriptor {
	t.Helper()
	d, err := descriptor.Resolve("https://docs-abc123.svc.us-east1-gcp.pinecone.io", "pc-key")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	return d
}

// ---------------------------------------------------------------------------
// Query
// ---------------------------------------------------------------------------

func TestPineconeIndex_Query(t *testing.T) {
	t.Parallel()

	var gotKey string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/query" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotKey = r.Header.Get("Api-Key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = io.WriteString(w, `{"matches":[
			{"id":"a","score":0.82,"metadata":{"source":"docs/policy.pdf","text":"The refund window is 30 days.","pdf_numpages":12}},
			{"id":"b","score":0.41,"metadata":{"source":"docs/faq.pdf"}}
		],"namespace":"pdf-test"}`)
	}))
	defer srv.Close()

	idx := NewPinecone(WithBaseURL(srv.URL))
	matches, err := idx.Query(context.Background(), rag.Query{
		Target:    testDescriptor(t),
		Vector:    []float32{0.1, 0.2},
		Namespace: "pdf-test",
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}

	if gotKey != "pc-key" {
		t.Errorf("Api-Key: got %q", gotKey)
	}
	if gotBody["topK"] != float64(rag.DefaultTopK) {
		t.Errorf("topK: got %v", gotBody["topK"])
	}
	if gotBody["includeMetadata"] != true || gotBody["includeValues"] != false {
		t.Errorf("include flags: got %v", gotBody)
	}
	if gotBody["namespace"] != "pdf-test" {
		t.Errorf("namespace: got %v", gotBody["namespace"])
	}

	if len(matches) != 2 {
		t.Fatalf("want 2 matches, got %d", len(matches))
	}
	first := matches[0]
	if first.ID != "a" || first.Score != 0.82 || first.Metadata.Source != "docs/policy.pdf" || first.Metadata.PageCount != 12 {
		t.Errorf("unexpected first match %+v", first)
	}
	if matches[1].Metadata.Text != "" {
		t.Errorf("missing text should decode as empty, got %q", matches[1].Metadata.Text)
	}
}

func TestPineconeIndex_Query_Non200(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"code":16,"message":"Invalid API Key"}`)
	}))
	defer srv.Close()

	idx := NewPinecone(WithBaseURL(srv.URL))
	_, err := idx.Query(context.Background(), rag.Query{Target: testDescriptor(t), Vector: []float32{1}})

	var retErr *rag.RetrievalError
	if !errors.As(err, &retErr) {
		t.Fatalf("want *rag.RetrievalError, got %T: %v", err, err)
	}
	if retErr.StatusCode != http.StatusUnauthorized || retErr.Body != `{"code":16,"message":"Invalid API Key"}` {
		t.Errorf("unexpected error %+v", retErr)
	}
}

func TestPineconeIndex_Query_Undecodable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"matches":[{"score":"high"}]}`)
	}))
	defer srv.Close()

	idx := NewPinecone(WithBaseURL(srv.URL))
	_, err := idx.Query(context.Background(), rag.Query{Target: testDescriptor(t)})

	var retErr *rag.RetrievalError
	if !errors.As(err, &retErr) || retErr.Err == nil {
		t.Fatalf("want *rag.RetrievalError with cause, got %T: %v", err, err)
	}
}

func TestPineconeIndex_Endpoint(t *testing.T) {
	t.Parallel()

	d := testDescriptor(t)
	if got := NewPinecone().endpoint(d, "/query"); got != "https://docs-abc123.svc.us-east1-gcp.pinecone.io/query" {
		t.Errorf("endpoint: got %q", got)
	}
	if got := NewPinecone(WithBaseURL("http://127.0.0.1:9/")).endpoint(d, "/query"); got != "http://127.0.0.1:9/query" {
		t.Errorf("endpoint override: got %q", got)
	}
}

// ---------------------------------------------------------------------------
// Stats
// ---------------------------------------------------------------------------

func TestPineconeIndex_Stats(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/describe_index_stats" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = io.WriteString(w, `{"namespaces":{"pdf-test":{"vectorCount":1200}},"dimension":1536,"indexFullness":0.1,"totalVectorCount":1200}`)
	}))
	defer srv.Close()

	idx := NewPinecone(WithBaseURL(srv.URL))
	stats, err := idx.Stats(context.Background(), testDescriptor(t))
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Dimension != 1536 || stats.TotalVectorCount != 1200 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if stats.Namespaces["pdf-test"].VectorCount != 1200 {
		t.Errorf("namespace count: got %+v", stats.Namespaces)
	}

	if err := NewPineconePinger(idx, testDescriptor(t)).Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestPineconeIndex_Stats_Unauthorized(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, "Unauthorized")
	}))
	defer srv.Close()

	idx := NewPinecone(WithBaseURL(srv.URL))
	_, err := idx.Stats(context.Background(), testDescriptor(t))

	var retErr *rag.RetrievalError
	if !errors.As(err, &retErr) || retErr.StatusCode != http.StatusUnauthorized || retErr.Body != "Unauthorized" {
		t.Fatalf("want 401 RetrievalError, got %v", err)
	}

	if err := NewPineconePinger(idx, testDescriptor(t)).Ping(context.Background()); err == nil {
		t.Error("Ping should fail on 401")
	}
}

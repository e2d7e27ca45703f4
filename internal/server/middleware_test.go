package server

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/54b3r/docchat-go/internal/logging"
)

// decodeRecord parses the single JSON log record in buf.
func decodeRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log record %q: %v", buf.String(), err)
	}
	return rec
}

func TestRequestLogger_GeneratesAndEchoesID(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	var seen string
	h := requestLogger(logging.NewWriter(&buf, "debug", "json"), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logging.FromContext(r.Context()).Debug("inner")
		seen = r.Header.Get(requestIDHeader)
		_, _ = w.Write([]byte("hello"))
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	id := w.Header().Get(requestIDHeader)
	if len(id) != 16 {
		t.Fatalf("expected a generated 16-char id, got %q", id)
	}
	if seen != "" {
		t.Errorf("request header should be untouched, got %q", seen)
	}

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("expected inner and access records, got %d", len(lines))
	}
	access := decodeRecord(t, bytes.NewBuffer(lines[1]))
	if access["request_id"] != id || access["bytes"] != float64(5) || access["level"] != "INFO" {
		t.Errorf("access record: %v", access)
	}
	inner := decodeRecord(t, bytes.NewBuffer(lines[0]))
	if inner["request_id"] != id {
		t.Errorf("context logger should carry request_id, got %v", inner)
	}
}

func TestRequestLogger_ReusesValidCallerID(t *testing.T) {
	t.Parallel()

	h := requestLogger(logging.Discard(), http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "trace-42_a")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if got := w.Header().Get(requestIDHeader); got != "trace-42_a" {
		t.Errorf("expected caller id to be reused, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "bad id\nwith newline")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if got := w.Header().Get(requestIDHeader); got == "bad id\nwith newline" || len(got) != 16 {
		t.Errorf("malformed caller id should be replaced, got %q", got)
	}
}

func TestRequestLogger_LevelFollowsStatus(t *testing.T) {
	t.Parallel()

	cases := map[int]string{
		http.StatusOK:                  "INFO",
		http.StatusTooManyRequests:     "WARN",
		http.StatusInternalServerError: "ERROR",
	}
	for status, want := range cases {
		var buf bytes.Buffer
		h := requestLogger(slog.New(slog.NewJSONHandler(&buf, nil)), http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/chat", nil))

		rec := decodeRecord(t, &buf)
		if rec["level"] != want || rec["status"] != float64(status) {
			t.Errorf("status %d: got level %v status %v", status, rec["level"], rec["status"])
		}
	}
}

package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/docchat-go/internal/pipeline"
	"github.com/54b3r/docchat-go/internal/rag"
)

// findMetric returns the metric named name whose labels include all of want.
func findMetric(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) *dto.Metric {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue metrics
				}
			}
			return m
		}
	}
	return nil
}

func Test_Metrics_EndpointServesRegistry(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, nil, nil, nil)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL+"/metrics", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("want 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("want text/plain content-type, got %q", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "docchat_chat_active_streams") {
		t.Error("expected server collectors in /metrics output")
	}
}

func Test_Metrics_ChatOutcomeAndDuration(t *testing.T) {
	t.Parallel()
	s, reg := newTestServer(t, &fakeRunner{stream: strings.NewReader(`[]"[END_SOURCE]"ok`)}, nil, nil)

	postChat(t, s.Handler(), validChatBody)

	m := findMetric(t, reg, "docchat_chat_requests_total", map[string]string{"outcome": outcomeOK})
	if m == nil || m.GetCounter().GetValue() != 1 {
		t.Fatalf("docchat_chat_requests_total{outcome=\"ok\"}: got %v", m)
	}
	h := findMetric(t, reg, "docchat_chat_duration_seconds", map[string]string{"outcome": outcomeOK})
	if h == nil || h.GetHistogram().GetSampleCount() != 1 {
		t.Errorf("docchat_chat_duration_seconds{outcome=\"ok\"}: got %v", h)
	}
	g := findMetric(t, reg, "docchat_chat_active_streams", nil)
	if g == nil || g.GetGauge().GetValue() != 0 {
		t.Errorf("active streams should return to 0, got %v", g)
	}
	hr := findMetric(t, reg, "docchat_http_requests_total", map[string]string{"handler": "chat", "code": "200"})
	if hr == nil || hr.GetCounter().GetValue() != 1 {
		t.Errorf("docchat_http_requests_total{handler=\"chat\",code=\"200\"}: got %v", hr)
	}
}

func Test_Metrics_StageFailureCounted(t *testing.T) {
	t.Parallel()
	runErr := &pipeline.StageError{Stage: pipeline.Embedding, Err: &rag.UpstreamError{
		Service: "embedding", StatusCode: http.StatusUnauthorized, Message: "bad key",
	}}
	s, reg := newTestServer(t, &fakeRunner{err: runErr}, nil, nil)

	postChat(t, s.Handler(), validChatBody)

	m := findMetric(t, reg, "docchat_pipeline_stage_failures_total", map[string]string{"stage": "embedding"})
	if m == nil || m.GetCounter().GetValue() != 1 {
		t.Errorf("docchat_pipeline_stage_failures_total{stage=\"embedding\"}: got %v", m)
	}
	e := findMetric(t, reg, "docchat_chat_requests_total", map[string]string{"outcome": outcomeError})
	if e == nil || e.GetCounter().GetValue() != 1 {
		t.Errorf("docchat_chat_requests_total{outcome=\"error\"}: got %v", e)
	}
}

package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/docchat-go/internal/descriptor"
	"github.com/54b3r/docchat-go/internal/index"
	"github.com/54b3r/docchat-go/internal/pipeline"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response. Zero
	// leaves streamed answers unbounded.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 2 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 5 if zero.
	RateBurst int
	// MetricsRegistry receives the server's collectors. Nil selects a fresh
	// registry owned by the server.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer is served on GET /metrics. Nil selects MetricsRegistry
	// when it is a Gatherer.
	MetricsGatherer prometheus.Gatherer
}

// ChatRunner runs one chat turn and returns the open framed stream.
// *pipeline.Orchestrator satisfies it; tests inject a fake.
type ChatRunner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// StatsProber fetches index statistics. *index.PineconeIndex satisfies it.
type StatsProber interface {
	Stats(ctx context.Context, d descriptor.Descriptor) (*index.IndexStats, error)
}

// Server is the HTTP server that exposes the chat pipeline.
type Server struct {
	// runner executes chat turns.
	runner ChatRunner
	// stats serves POST /api/index/stats. Nil disables the route.
	stats StatsProber
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the server's Prometheus collectors.
	metrics *serverMetrics
	// validate checks decoded request bodies.
	validate *validator.Validate
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// statsRequest is the JSON body for POST /api/index/stats.
type statsRequest struct {
	// APIKey authenticates against the index.
	APIKey string `json:"apikey" validate:"required"`
	// IndexURL is the hosted index URL.
	IndexURL string `json:"indexURL" validate:"required"`
}

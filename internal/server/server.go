// Package server implements the HTTP surface of the chat pipeline. The chat
// endpoint returns the framed completion stream as plain text, flushed chunk
// by chunk. The server is started by the `docchat serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/docchat-go/internal/descriptor"
	"github.com/54b3r/docchat-go/internal/logging"
	"github.com/54b3r/docchat-go/internal/pipeline"
	"github.com/54b3r/docchat-go/internal/rag"
)

// genericErrorText is returned for failures that carry no upstream message.
const genericErrorText = "Error"

// statusTextHeader mirrors the error text of a failed chat request. net/http
// always sends the standard reason phrase, so clients read the detail here.
const statusTextHeader = "X-Status-Text"

// streamChunkSize is the read size used when relaying the answer stream.
const streamChunkSize = 4 << 10

// New constructs a Server around runner. stats may be nil, in which case
// POST /api/index/stats is not registered.
func New(runner ChatRunner, stats StatsProber, cfg *Config) (*Server, error) {
	if runner == nil {
		return nil, fmt.Errorf("server: chat runner must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.MetricsRegistry == nil {
		reg := prometheus.NewRegistry()
		cfg.MetricsRegistry = reg
		if cfg.MetricsGatherer == nil {
			cfg.MetricsGatherer = reg
		}
	}
	if cfg.MetricsGatherer == nil {
		if g, ok := cfg.MetricsRegistry.(prometheus.Gatherer); ok {
			cfg.MetricsGatherer = g
		} else {
			cfg.MetricsGatherer = prometheus.DefaultGatherer
		}
	}

	s := &Server{
		runner:   runner,
		stats:    stats,
		cfg:      cfg,
		log:      cfg.Logger,
		pingers:  cfg.Pingers,
		metrics:  newServerMetrics(cfg.MetricsRegistry),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}

	rl, stop := newRateLimiter(cfg.RateLimit, cfg.RateBurst)
	s.stopRL = stop

	mux := http.NewServeMux()
	mux.Handle("POST /api/chat", s.instrument("chat", rl.middleware(http.HandlerFunc(s.handleChat))))
	if stats != nil {
		mux.Handle("POST /api/index/stats", s.instrument("index_stats", rl.middleware(http.HandlerFunc(s.handleStats))))
	}
	mux.Handle("GET /api/health", s.instrument("health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /api/ready", s.instrument("ready", http.HandlerFunc(s.handleReady)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(cfg.Logger, mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Handler returns the server's root handler, middleware included.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()

	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleChat handles POST /api/chat. On success the framed stream (citation
// header, sentinel, answer text) is relayed as text/plain and flushed after
// every chunk. Failures before the first byte map to a status code; a
// failure after the first byte aborts the connection.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	start := time.Now()

	var req pipeline.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.metrics.chatRequestsTotal.WithLabelValues(outcomeInvalid).Inc()
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.metrics.chatRequestsTotal.WithLabelValues(outcomeInvalid).Inc()
		http.Error(w, "invalid request: "+err.Error(), http.StatusBadRequest)
		return
	}

	res, err := s.runner.Run(r.Context(), req)
	if err != nil {
		s.metrics.stageFailuresTotal.WithLabelValues(pipeline.StageOf(err).String()).Inc()
		status, text := classify(err)
		outcome := outcomeError
		if status == http.StatusBadRequest {
			outcome = outcomeInvalid
		}
		s.observeChat(outcome, start)
		log.Warn("chat: pipeline failed",
			slog.Int("status", status),
			slog.Any("error", err),
		)
		w.Header().Set(statusTextHeader, text)
		http.Error(w, text, status)
		return
	}
	defer res.Stream.Close()

	s.metrics.chatActiveStreams.Inc()
	defer s.metrics.chatActiveStreams.Dec()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	buf := make([]byte, streamChunkSize)
	for {
		n, readErr := res.Stream.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				s.observeChat(outcomeCanceled, start)
				log.Info("chat: client went away", slog.Any("error", err))
				return
			}
			_ = rc.Flush()
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			if r.Context().Err() != nil {
				s.observeChat(outcomeCanceled, start)
				log.Info("chat: request cancelled mid-stream")
				return
			}
			s.observeChat(outcomeError, start)
			log.Error("chat: stream failed after headers were sent", slog.Any("error", readErr))
			// Headers are out; abort so the client sees a truncated body.
			panic(http.ErrAbortHandler)
		}
	}

	s.observeChat(outcomeOK, start)
}

// handleStats handles POST /api/index/stats. An authentication failure from
// the index is passed through with its raw body.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req statsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		http.Error(w, "invalid request: "+err.Error(), http.StatusBadRequest)
		return
	}

	d, err := descriptor.Resolve(req.IndexURL, req.APIKey)
	if err != nil {
		w.Header().Set(statusTextHeader, err.Error())
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	stats, err := s.stats.Stats(r.Context(), d)
	if err != nil {
		log.Warn("index stats failed", slog.Any("error", err))
		text := genericErrorText
		var retErr *rag.RetrievalError
		if errors.As(err, &retErr) && retErr.StatusCode == http.StatusUnauthorized {
			text = retErr.Body
		}
		w.Header().Set(statusTextHeader, text)
		http.Error(w, text, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		log.Error("stats encode error", slog.Any("error", err))
	}
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "ok"}); err != nil {
		logging.FromContext(r.Context()).Error("health encode error", slog.Any("error", err))
	}
}

// classify maps a pipeline error to a status code and the text sent to the
// client. Upstream messages are passed through; anything unclassified is
// reported as a generic error.
func classify(err error) (int, string) {
	var (
		upErr     *rag.UpstreamError
		statusErr *rag.StatusError
		retErr    *rag.RetrievalError
	)
	switch {
	case errors.Is(err, rag.ErrNoQuestion):
		return http.StatusBadRequest, rag.ErrNoQuestion.Error()
	case errors.As(err, &upErr):
		return http.StatusInternalServerError, upErr.Message
	case errors.Is(err, descriptor.ErrInvalidDescriptor):
		return http.StatusInternalServerError, cause(err).Error()
	case errors.As(err, &retErr):
		return http.StatusInternalServerError, retErr.Error()
	case errors.As(err, &statusErr):
		return http.StatusInternalServerError, statusErr.Error()
	default:
		return http.StatusInternalServerError, genericErrorText
	}
}

// cause strips the stage wrapper from a pipeline error.
func cause(err error) error {
	var se *pipeline.StageError
	if errors.As(err, &se) {
		return se.Err
	}
	return err
}

// Package api exposes the HTTP control plane for serve mode.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/search-console-tap/internal/catalog"
	"github.com/JakeFAU/search-console-tap/internal/config"
	"github.com/JakeFAU/search-console-tap/internal/dispatcher"
	"github.com/JakeFAU/search-console-tap/internal/metrics"
	"github.com/JakeFAU/search-console-tap/internal/store"
	"github.com/JakeFAU/search-console-tap/internal/tap"
)

const (
	defaultRunLimit = 50
	maxRunLimit     = 500
	enqueueTimeout  = 5 * time.Second
)

// ReadyFunc reports whether downstream dependencies are reachable.
type ReadyFunc func(ctx context.Context) error

// Option customizes a Server.
type Option func(*Server)

// WithProgressRepository mounts the /v1/progress routes backed by repo.
func WithProgressRepository(repo store.ProgressRepository) Option {
	return func(s *Server) {
		s.progress = NewProgressHandler(repo, s.logger)
	}
}

// WithReadiness sets the /readyz check.
func WithReadiness(fn ReadyFunc) Option {
	return func(s *Server) {
		s.ready = fn
	}
}

// Server wires HTTP handlers to the dispatcher and stores.
type Server struct {
	router     chi.Router
	runStore   tap.RunStore
	dispatcher *dispatcher.Dispatcher
	catalog    catalog.Catalog
	idGen      tap.IDGenerator
	clock      tap.Clock
	cfg        config.Config
	logger     *zap.Logger
	progress   *ProgressHandler
	ready      ReadyFunc
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	runStore tap.RunStore,
	dispatcher *dispatcher.Dispatcher,
	cat catalog.Catalog,
	idGen tap.IDGenerator,
	clock tap.Clock,
	cfg config.Config,
	logger *zap.Logger,
	opts ...Option,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	s := &Server{
		runStore:   runStore,
		dispatcher: dispatcher,
		catalog:    cat,
		idGen:      idGen,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(timeoutMiddleware(60 * time.Second))
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Get("/streams", s.listStreams)
		r.Route("/runs", func(r chi.Router) {
			r.Post("/", s.submitRun)
			r.Get("/", s.listRuns)
			r.Route("/{run_id}", func(r chi.Router) {
				r.Get("/", s.getRun)
				r.Post("/cancel", s.cancelRun)
			})
		})
		if s.progress != nil {
			r.Route("/progress/runs", func(r chi.Router) {
				r.Get("/", s.progress.ListRuns)
				r.Get("/{run_id}", s.progress.GetRun)
				r.Get("/{run_id}/streams", s.progress.ListRunStreams)
			})
		}
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) listStreams(w http.ResponseWriter, _ *http.Request) {
	out := make([]streamDTO, 0, len(s.catalog.Streams))
	for _, e := range s.catalog.Streams {
		out = append(out, streamDTO{
			TapStreamID:     e.TapStreamID,
			KeyProperties:   e.KeyProperties,
			ReplicationKeys: e.ReplicationKeys(),
			Selected:        e.IsSelected(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"streams": out})
}

func (s *Server) submitRun(w http.ResponseWriter, r *http.Request) {
	var req tap.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	for _, id := range req.Streams {
		if _, ok := s.catalog.Entry(id); !ok {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown stream %q", id))
			return
		}
	}
	runID, err := s.enqueueRun(r.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, _, err := parseLimitOffset(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	runs, err := s.runStore.ListRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	run, err := s.runStore.GetRun(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run})
}

func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	run, err := s.runStore.GetRun(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	switch run.Status {
	case tap.RunStatusQueued:
		if err := s.runStore.UpdateRunStatus(r.Context(), runID, tap.RunStatusCanceled, "canceled via API", run.Counters); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to cancel run")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"run_id": runID, "status": string(tap.RunStatusCanceled)})
	case tap.RunStatusRunning:
		if s.dispatcher == nil || !s.dispatcher.Cancel(runID) {
			writeError(w, http.StatusConflict, "run is not executing on this instance")
			return
		}
		// The worker records the final status once the run unwinds.
		writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID, "status": "canceling"})
	default:
		writeError(w, http.StatusConflict, fmt.Sprintf("run already %s", run.Status))
	}
}

func (s *Server) enqueueRun(ctx context.Context, req tap.RunRequest) (string, error) {
	runID, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	now := s.clock.Now()
	run := tap.Run{
		ID:        runID,
		Status:    tap.RunStatusQueued,
		Submitted: now,
		Request:   req,
	}
	if err := s.runStore.CreateRun(ctx, run); err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}
	queueCtx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	item := tap.QueueItem{
		RunID:     runID,
		Request:   req,
		Attempt:   1,
		Submitted: now.Unix(),
	}
	if err := s.dispatcher.Enqueue(queueCtx, item); err != nil {
		if updErr := s.runStore.UpdateRunStatus(ctx, runID, tap.RunStatusFailed, err.Error(), tap.RunCounters{}); updErr != nil {
			s.logger.Error("mark unqueued run failed", zap.String("run_id", runID), zap.Error(updErr))
		}
		return "", fmt.Errorf("enqueue run: %w", err)
	}
	s.logger.Info("run queued", zap.String("run_id", runID), zap.Strings("streams", req.Streams))
	return runID, nil
}

type streamDTO struct {
	TapStreamID     string   `json:"tap_stream_id"`
	KeyProperties   []string `json:"key_properties"`
	ReplicationKeys []string `json:"replication_keys"`
	Selected        bool     `json:"selected"`
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.String("request_id", reqID),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

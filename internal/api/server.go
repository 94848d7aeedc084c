// Package api exposes the HTTP interface for the screenshot service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/toolhub/shotpipe/internal/capture"
	"github.com/toolhub/shotpipe/internal/metrics"
	"github.com/toolhub/shotpipe/internal/middleware"
	memqueue "github.com/toolhub/shotpipe/internal/queue/memory"
)

const (
	requestTimeout = 60 * time.Second
	enqueueTimeout = 5 * time.Second
)

// Processor runs the capture pipeline for a single target. Satisfied by
// runner.Runner.
type Processor interface {
	ProcessTarget(ctx context.Context, target capture.Target) capture.TargetResult
}

// Server wires HTTP handlers to the request queue and tool store.
type Server struct {
	router    chi.Router
	queue     *memqueue.Queue
	tools     capture.ToolStore
	processor Processor
	idGen     capture.IDGenerator
	clock     capture.Clock
	statuses  *statusStore
	logger    *zap.Logger

	workerWG sync.WaitGroup
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	queue *memqueue.Queue,
	tools capture.ToolStore,
	processor Processor,
	idGen capture.IDGenerator,
	clock capture.Clock,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		queue:     queue,
		tools:     tools,
		processor: processor,
		idGen:     idGen,
		clock:     clock,
		statuses:  newStatusStore(),
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(middleware.Metrics)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/captures", func(r chi.Router) {
			r.Post("/", s.submitCapture)
			r.Post("/batch", s.submitBatch)
			r.Get("/{request_id}", s.getCapture)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// StartWorker launches the single queue consumer. It exits when ctx is
// canceled or the queue is closed.
func (s *Server) StartWorker(ctx context.Context) {
	s.workerWG.Add(1)
	go func() {
		defer s.workerWG.Done()
		for {
			req, err := s.queue.Dequeue(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					s.logger.Info("capture worker stopping", zap.Error(err))
				}
				return
			}
			s.statuses.setState(req.ID, capture.StateCapturing)
			result := s.processor.ProcessTarget(ctx, capture.Target{
				ToolID: req.ToolID,
				URL:    req.URL,
			})
			s.statuses.setResult(req.ID, result)
		}
	}()
}

// Shutdown closes the queue and waits for the worker to drain.
func (s *Server) Shutdown() {
	s.queue.Close()
	s.workerWG.Wait()
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ready",
		"queue_depth": s.queue.Len(),
	})
}

func (s *Server) submitCapture(w http.ResponseWriter, r *http.Request) {
	var req captureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.ToolID == "" {
		writeError(w, http.StatusBadRequest, "tool_id is required")
		return
	}
	url := req.WebsiteURL
	if url == "" {
		target, err := s.tools.GetTarget(r.Context(), req.ToolID)
		if err != nil {
			writeError(w, http.StatusNotFound, "tool not found")
			return
		}
		url = target.URL
	}
	id, err := s.enqueue(r.Context(), req.ToolID, url)
	if err != nil {
		writeEnqueueError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"request_id": id})
}

func (s *Server) submitBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.ToolIDs) == 0 {
		writeError(w, http.StatusBadRequest, "tool_ids required")
		return
	}
	accepted := make([]batchEntry, 0, len(req.ToolIDs))
	for _, toolID := range req.ToolIDs {
		target, err := s.tools.GetTarget(r.Context(), toolID)
		if err != nil {
			accepted = append(accepted, batchEntry{ToolID: toolID, Error: "tool not found"})
			continue
		}
		id, err := s.enqueue(r.Context(), toolID, target.URL)
		if err != nil {
			accepted = append(accepted, batchEntry{ToolID: toolID, Error: err.Error()})
			continue
		}
		accepted = append(accepted, batchEntry{ToolID: toolID, RequestID: id})
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"requests": accepted})
}

func (s *Server) getCapture(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "request_id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request_id")
		return
	}
	rec, ok := s.statuses.get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "capture request not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) enqueue(ctx context.Context, toolID, url string) (string, error) {
	id, err := s.idGen.NewID()
	if err != nil {
		return "", errors.New("failed to generate request id")
	}
	queueCtx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	req := memqueue.Request{
		ID:        id,
		ToolID:    toolID,
		URL:       url,
		Submitted: s.clock.Now(),
	}
	// The record must exist before the worker can dequeue the request,
	// otherwise its state updates would land on a missing entry.
	s.statuses.create(id, toolID, url, req.Submitted)
	if err := s.queue.Enqueue(queueCtx, req); err != nil {
		s.statuses.remove(id)
		return "", err
	}
	return id, nil
}

func writeEnqueueError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, memqueue.ErrQueueFull):
		writeError(w, http.StatusTooManyRequests, "capture queue is full")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusRequestTimeout, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

type captureRequest struct {
	ToolID     string `json:"tool_id"`
	WebsiteURL string `json:"website_url"`
}

type batchRequest struct {
	ToolIDs []string `json:"tool_ids"`
}

type batchEntry struct {
	ToolID    string `json:"tool_id"`
	RequestID string `json:"request_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// statusRecord is the JSON shape returned by GET /v1/captures/{id}.
type statusRecord struct {
	RequestID    string              `json:"request_id"`
	ToolID       string              `json:"tool_id"`
	URL          string              `json:"url"`
	State        capture.TargetState `json:"state"`
	Submitted    time.Time           `json:"submitted"`
	UsedFallback bool                `json:"used_fallback,omitempty"`
	URLs         []string            `json:"urls,omitempty"`
	Error        string              `json:"error,omitempty"`
}

type statusStore struct {
	mu      sync.RWMutex
	records map[string]statusRecord
}

func newStatusStore() *statusStore {
	return &statusStore{records: make(map[string]statusRecord)}
}

func (s *statusStore) create(id, toolID, url string, submitted time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id] = statusRecord{
		RequestID: id,
		ToolID:    toolID,
		URL:       url,
		State:     capture.StatePending,
		Submitted: submitted,
	}
}

func (s *statusStore) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
}

func (s *statusStore) setState(id string, state capture.TargetState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return
	}
	rec.State = state
	s.records[id] = rec
}

func (s *statusStore) setResult(id string, result capture.TargetResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return
	}
	rec.State = result.State
	rec.UsedFallback = result.UsedFallback
	rec.URLs = result.URLs
	rec.Error = result.ErrorText
	s.records[id] = rec
}

func (s *statusStore) get(id string) (statusRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	return rec, ok
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
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
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

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

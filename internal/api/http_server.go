package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"studysync/internal/config"
	"studysync/internal/logging"
	"studysync/internal/models"
	"studysync/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// QueueAPI is the part of the queue service exposed over HTTP.
type QueueAPI interface {
	Enqueue(ctx context.Context, method, url string, headers map[string]string, body any) (string, error)
	Trigger(ctx context.Context) (worker.PassSummary, error)
	RetryFailed(ctx context.Context) (int, error)
	Status(ctx context.Context) (models.StatusCounts, error)
	Clear(ctx context.Context) error
	Sweep(ctx context.Context) (int, error)
}

// HTTPServer exposes the admin API for the offline queue.
type HTTPServer struct {
	cfg    config.APIConfig
	queue  QueueAPI
	server *http.Server
	auth   *HTTPAuth
	logger *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, queue QueueAPI, withMetrics bool, logger *zerolog.Logger) *HTTPServer {
	mux := http.NewServeMux()
	srv := &HTTPServer{cfg: cfg, queue: queue, logger: logging.Component(logger, "http")}
	srv.auth = NewHTTPAuth(cfg)

	mux.HandleFunc("/healthz", srv.handleHealth)
	mux.HandleFunc("/api/v1/queue/status", srv.handleStatus)
	mux.HandleFunc("/api/v1/queue/actions", srv.handleEnqueue)
	mux.HandleFunc("/api/v1/queue/sync", srv.handleSync)
	mux.HandleFunc("/api/v1/queue/retry", srv.handleRetry)
	mux.HandleFunc("/api/v1/queue/sweep", srv.handleSweep)
	mux.HandleFunc("/api/v1/queue", srv.handleClear)

	public := []string{"/healthz"}
	if withMetrics {
		mux.Handle("/metrics", promhttp.Handler())
		public = append(public, "/metrics")
	}

	handler := srv.loggingMiddleware(srv.auth.Wrap(mux, public...))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	return srv
}

// Handler returns the fully wrapped handler, for tests and embedding.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	counts, err := s.queue.Status(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

type enqueueRequest struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

func (s *HTTPServer) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body enqueueRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 2*models.MaxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var payload any
	if len(body.Body) > 0 {
		payload = body.Body
	}
	id, err := s.queue.Enqueue(r.Context(), body.Method, body.URL, body.Headers, payload)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

func (s *HTTPServer) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	summary, err := s.queue.Trigger(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ran":         summary.Ran,
		"synced":      summary.Synced,
		"failed":      summary.Failed,
		"retried":     summary.Retried,
		"recovered":   summary.Recovered,
		"duration_ms": summary.Duration.Milliseconds(),
	})
}

func (s *HTTPServer) handleRetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	n, err := s.queue.RetryFailed(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"reset": n})
}

func (s *HTTPServer) handleSweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	n, err := s.queue.Sweep(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

func (s *HTTPServer) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := s.queue.Clear(r.Context()); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidMethod),
		errors.Is(err, models.ErrInvalidURL),
		errors.Is(err, models.ErrInvalidBody):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, worker.ErrPassInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, models.ErrBodyTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	case models.IsStorageError(err):
		s.logger.Error().Err(err).Msg("Queue storage failure")
		writeError(w, http.StatusServiceUnavailable, "queue storage unavailable")
	default:
		s.logger.Error().Err(err).Msg("Request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("dur", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

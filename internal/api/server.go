// Package api exposes the HTTP interface for the classification service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/avelasco/imagesort/internal/classify"
	"github.com/avelasco/imagesort/internal/config"
	"github.com/avelasco/imagesort/internal/jobs"
	"github.com/avelasco/imagesort/internal/metrics"
	"github.com/avelasco/imagesort/internal/pipeline"
)

// Server wires HTTP handlers to the job manager and stores.
type Server struct {
	router     chi.Router
	manager    *jobs.Manager
	classifier pipeline.Classifier
	records    classify.RecordStore
	cfg        config.Config
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	manager *jobs.Manager,
	classifier pipeline.Classifier,
	records classify.RecordStore,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		manager:    manager,
		classifier: classifier,
		records:    records,
		cfg:        cfg,
		logger:     logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/classify", s.submitBatch)
		r.Post("/classify/url", s.classifySingle)
		r.Get("/jobs/{job_id}", s.getJob)
		r.Route("/records", func(r chi.Router) {
			r.Get("/review", s.listPendingReview)
			r.Post("/review", s.markReviewed)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, s.logger)
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"}, s.logger)
}

type batchRequest struct {
	URLs []string `json:"urls"`
}

type singleRequest struct {
	URL string `json:"image_url"`
}

type reviewRequest struct {
	URL     string `json:"url"`
	ReLabel bool   `json:"re_label"`
}

type jobResponse struct {
	JobID  string                          `json:"job_id"`
	Status string                          `json:"status"`
	Result []classify.ClassificationResult `json:"result"`
	Detail string                          `json:"detail,omitempty"`
}

func (s *Server) submitBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", s.logger)
		return
	}
	handle, err := s.manager.Submit(r.Context(), req.URLs)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusRequestTimeout
		}
		writeError(w, status, err.Error(), s.logger)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": handle}, s.logger)
}

func (s *Server) classifySingle(w http.ResponseWriter, r *http.Request) {
	var req singleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", s.logger)
		return
	}
	if err := classify.ValidateURL(req.URL); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), s.logger)
		return
	}
	result := s.classifier.ClassifyURL(r.Context(), req.URL)
	writeJSON(w, http.StatusOK, result, s.logger)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "job_id")
	job, err := s.manager.Status(r.Context(), handle)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found", s.logger)
		return
	}
	resp := jobResponse{
		JobID:  job.Handle,
		Status: string(job.Status),
		Detail: job.Detail,
	}
	// Results are only published once the job reaches a terminal state.
	if job.Status.Terminal() {
		resp.Result = job.Results
	}
	writeJSON(w, http.StatusOK, resp, s.logger)
}

func (s *Server) listPendingReview(w http.ResponseWriter, r *http.Request) {
	records, err := s.records.ListPendingReview(r.Context())
	if err != nil {
		s.logger.Error("pending review listing failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list records", s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records}, s.logger)
}

func (s *Server) markReviewed(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "missing url", s.logger)
		return
	}
	if err := s.records.MarkReviewed(r.Context(), req.URL, req.ReLabel); err != nil {
		if errors.Is(err, classify.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "record not found", s.logger)
			return
		}
		s.logger.Error("review update failed", zap.String("url", req.URL), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to update record", s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": req.URL, "re_label": req.ReLabel}, s.logger)
}

type requestIDKey struct{}

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
			duration := time.Since(start)
			metrics.ObserveHTTPRequest(r.Method, r.URL.Path, ww.status, duration)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", duration.Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("panic", rec))
					writeError(w, http.StatusInternalServerError, "internal server error", logger)
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

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeJSON(w, http.StatusForbidden, map[string]string{"error": "unauthorized"}, zap.NewNop())
				return
			}
			next.ServeHTTP(w, r)
		})
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

func writeJSON(w http.ResponseWriter, status int, payload any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string, logger *zap.Logger) {
	writeJSON(w, status, map[string]string{"error": msg}, logger)
}

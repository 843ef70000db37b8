package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/prepstack/render-queue/internal/core/domain"
	"github.com/prepstack/render-queue/internal/core/services"
)

// Server is the queue's HTTP surface: enqueue, cancel, status, stats, the
// manual cycle trigger and the SSE event stream.
type Server struct {
	logger     *slog.Logger
	queue      *services.QueueService
	dispatcher *services.Dispatcher
	bus        *services.EventBus
}

func NewServer(logger *slog.Logger, queue *services.QueueService, dispatcher *services.Dispatcher, bus *services.EventBus) *Server {
	return &Server{
		logger:     logger,
		queue:      queue,
		dispatcher: dispatcher,
		bus:        bus,
	}
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/v1/jobs", s.handleEnqueue).Methods(http.MethodPost)
	r.HandleFunc("/v1/jobs/{id}", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/v1/jobs/{id}", s.handleCancel).Methods(http.MethodDelete)
	r.HandleFunc("/v1/jobs/{id}/events", s.handleJobEvents).Methods(http.MethodGet)
	r.HandleFunc("/v1/queue/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/v1/queue/cycle", s.handleCycle).Methods(http.MethodPost)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	return r
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req services.EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	receipt, err := s.queue.Enqueue(r.Context(), req)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidPayload) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("enqueue failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}

	s.writeJSON(w, http.StatusCreated, receipt)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := domain.JobID(mux.Vars(r)["id"])

	view, err := s.queue.Status(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("status query failed", "job_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to query job")
		return
	}

	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := domain.JobID(mux.Vars(r)["id"])

	err := s.queue.Cancel(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrJobNotFound):
			s.writeError(w, http.StatusNotFound, "job not found")
		case errors.Is(err, domain.ErrNotCancellable):
			s.writeError(w, http.StatusConflict, err.Error())
		default:
			s.logger.Error("cancel failed", "job_id", id, "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to cancel job")
		}
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"job_id": id, "status": domain.JobStatusCancelled})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queue.Stats(r.Context())
	if err != nil {
		s.logger.Error("stats query failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// handleCycle runs one dispatch cycle on demand, for cron/external triggers.
func (s *Server) handleCycle(w http.ResponseWriter, r *http.Request) {
	report, err := s.dispatcher.RunCycle(r.Context())
	if err != nil {
		s.logger.Error("triggered cycle failed", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"report":      report,
		"duration_ms": report.Duration.Milliseconds(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

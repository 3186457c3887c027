// Package api serves the run status surface over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nidhogg/schema-evolver/internal/orchestrator"
	"github.com/nidhogg/schema-evolver/internal/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Controller is the live run.
type Controller interface {
	Snapshot() *orchestrator.EvolutionState
	Abort(reason string) bool
}

// Archive is the persisted run history.
type Archive interface {
	Runs(ctx context.Context, limit int) ([]store.RunSummary, error)
	Run(ctx context.Context, id string) (*orchestrator.EvolutionState, error)
	History(ctx context.Context, runID string) ([]orchestrator.IterationRecord, error)
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	run     Controller
	archive Archive
	logger  *zap.Logger
}

// NewHandler creates a new API handler. archive may be nil when no
// database is configured.
func NewHandler(run Controller, archive Archive, logger *zap.Logger) *Handler {
	return &Handler{run: run, archive: archive, logger: logger}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Get("/evolution", h.getEvolution)
		r.Get("/evolution/history", h.getHistory)
		r.Get("/evolution/schema", h.getBestSchema)
		r.Post("/evolution/abort", h.abort)

		r.Get("/runs", h.listRuns)
		r.Get("/runs/{id}", h.getRun)
		r.Get("/runs/{id}/history", h.getRunHistory)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) getEvolution(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.run.Snapshot())
}

func (h *Handler) getHistory(w http.ResponseWriter, r *http.Request) {
	st := h.run.Snapshot()
	history := st.History
	if history == nil {
		history = []orchestrator.IterationRecord{}
	}
	writeJSON(w, http.StatusOK, history)
}

func (h *Handler) getBestSchema(w http.ResponseWriter, r *http.Request) {
	st := h.run.Snapshot()
	if st.BestSchema == nil {
		writeError(w, http.StatusNotFound, "no schema evaluated yet")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"schema":     st.BestSchema,
		"evaluation": st.BestEvaluation,
	})
}

type abortRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) abort(w http.ResponseWriter, r *http.Request) {
	var req abortRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if !h.run.Abort(req.Reason) {
		writeError(w, http.StatusConflict, "no run in progress")
		return
	}
	h.logger.Info("operator abort requested", zap.String("reason", req.Reason))
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "aborting"})
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeError(w, http.StatusServiceUnavailable, "run archive not configured")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	runs, err := h.archive.Runs(r.Context(), limit)
	if err != nil {
		h.logger.Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []store.RunSummary{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeError(w, http.StatusServiceUnavailable, "run archive not configured")
		return
	}
	st, err := h.archive.Run(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "run not found")
	case err != nil:
		h.logger.Error("load run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, st)
	}
}

// getRunHistory lists a stored run's iterations. A run with no recorded
// iterations yields an empty list; an unknown run is a 404.
func (h *Handler) getRunHistory(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeError(w, http.StatusServiceUnavailable, "run archive not configured")
		return
	}
	id := chi.URLParam(r, "id")
	history, err := h.archive.History(r.Context(), id)
	if err == nil && len(history) == 0 {
		_, err = h.archive.Run(r.Context(), id)
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "run not found")
	case err != nil:
		h.logger.Error("load run history failed", zap.String("run_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		if history == nil {
			history = []orchestrator.IterationRecord{}
		}
		writeJSON(w, http.StatusOK, history)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

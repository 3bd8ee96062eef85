// Package server exposes the registry over HTTP: observation capture, bulk
// imports, registry queries, and quality reporting.
package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/groveworks/canopy/internal/model"
	"github.com/groveworks/canopy/internal/quality"
	"github.com/groveworks/canopy/internal/reconcile"
	"github.com/groveworks/canopy/internal/registry"
	"github.com/groveworks/canopy/internal/store"
	"github.com/groveworks/canopy/pkg/vision"
)

// Server wires the HTTP API to the reconciliation core.
type Server struct {
	store      store.Store
	pipeline   *reconcile.Pipeline
	classifier vision.Client
}

// New creates a Server. The classifier may be nil when no classification
// service is configured; observations are then stored without verdicts.
func New(st store.Store, pipeline *reconcile.Pipeline, classifier vision.Client) *Server {
	return &Server{store: st, pipeline: pipeline, classifier: classifier}
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
	}))

	r.Get("/health", s.handleHealth)
	r.Post("/observations", s.handleObservation)
	r.Post("/imports", s.handleImport)
	r.Get("/quality", s.handleQuality)
	r.Get("/trees", s.handleListTrees)
	r.Get("/trees/{publicID}", s.handleGetTree)
	r.Delete("/trees/{publicID}", s.handleArchiveTree)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// observationPayload is what a mobile client submits for one capture.
type observationPayload struct {
	Owner    model.OwnerInfo `json:"owner"`
	ImageURL string          `json:"image_url,omitempty"`
	model.ObservationRequest
}

func (s *Server) handleObservation(w http.ResponseWriter, r *http.Request) {
	var payload observationPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// Classify the photo before the core runs, when a classifier is wired.
	// An unavailable classifier never blocks capture.
	if payload.Verdict == nil && payload.ImageURL != "" && s.classifier != nil {
		result, err := s.classifier.Classify(r.Context(), vision.Request{
			ImageURL:     payload.ImageURL,
			DeclaredType: payload.DeclaredType,
		})
		if err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		if result.Status == vision.StatusOK {
			payload.Verdict = result.Verdict
		} else {
			zap.L().Warn("server: classifier unavailable, storing observation without verdict")
		}
	}

	result, obs, err := s.pipeline.SubmitObservation(r.Context(), payload.Owner, &payload.ObservationRequest)
	if err != nil {
		switch {
		case eris.Is(err, registry.ErrInvalidLocation):
			writeError(w, http.StatusBadRequest, "invalid coordinates")
		case eris.Is(err, registry.ErrOwnerNotFound):
			writeError(w, http.StatusUnprocessableEntity, "owner is required")
		default:
			zap.L().Error("server: observation failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "observation failed")
		}
		return
	}

	status := http.StatusOK
	if result.WasCreated {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{
		"result":      result,
		"observation": obs,
	})
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Rows []map[string]string `json:"rows"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(payload.Rows) == 0 {
		writeError(w, http.StatusBadRequest, "rows are required")
		return
	}

	rows := make([]model.RawRow, len(payload.Rows))
	for i, values := range payload.Rows {
		rows[i] = model.RawRow{Index: i, Values: values}
	}

	report, err := s.pipeline.Run(r.Context(), rows)
	if err != nil {
		zap.L().Error("server: import failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "import failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleQuality(w http.ResponseWriter, r *http.Request) {
	report, err := quality.ReportFromStore(r.Context(), s.store)
	if err != nil {
		zap.L().Error("server: quality report failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "quality report failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleListTrees(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.TreeFilter{
		DeclaredType:    q.Get("type"),
		Status:          model.Status(q.Get("status")),
		IncludeArchived: q.Get("include_archived") == "true",
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}
	if offset := q.Get("offset"); offset != "" {
		n, err := strconv.Atoi(offset)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		filter.Offset = n
	}

	records, err := s.store.ListTrees(r.Context(), filter)
	if err != nil {
		zap.L().Error("server: list trees failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	if records == nil {
		records = []*model.TreeRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleGetTree(w http.ResponseWriter, r *http.Request) {
	publicID := chi.URLParam(r, "publicID")
	rec, err := s.store.GetTreeByPublicID(r.Context(), publicID)
	if err != nil {
		zap.L().Error("server: get tree failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "tree not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleArchiveTree(w http.ResponseWriter, r *http.Request) {
	publicID := chi.URLParam(r, "publicID")
	err := s.store.ArchiveTree(r.Context(), publicID, time.Now().UTC())
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "tree not found")
			return
		}
		zap.L().Error("server: archive failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "archive failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "archived", "public_id": publicID})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("server: write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

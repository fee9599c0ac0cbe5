package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"cisage/internal/respond"
	"cisage/internal/store"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type dependency struct {
	Status string `json:"status"`
	Type   string `json:"type,omitempty"`
	Error  string `json:"error,omitempty"`
}

type healthResponse struct {
	Status       string                `json:"status"`
	Version      string                `json:"version"`
	Timestamp    string                `json:"timestamp"`
	Dependencies map[string]dependency `json:"dependencies"`
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	respond.JSON(w, http.StatusOK, map[string]string{"status": "healthy", "version": s.deps.Version})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:       "healthy",
		Version:      s.deps.Version,
		Dependencies: map[string]dependency{},
	}
	cfg := s.deps.Config

	if s.deps.Store != nil {
		db := dependency{Status: "healthy", Type: s.deps.Store.Dialect()}
		if err := s.deps.Store.Ping(r.Context()); err != nil {
			db.Status = "unhealthy"
			db.Error = err.Error()
			resp.Status = "degraded"
		}
		resp.Dependencies["database"] = db
	}

	llm := dependency{Status: "test_mode", Type: cfg.LLM.Provider}
	if cfg.HasLLMKey() {
		llm.Status = "configured"
	}
	resp.Dependencies["llm"] = llm

	app := dependency{Status: "test_mode", Type: "github_app"}
	if cfg.HasGitHubApp() {
		app.Status = "configured"
	}
	resp.Dependencies["github_app"] = app

	for name, probe := range s.deps.Probes {
		dep := dependency{Status: "healthy", Type: name}
		if err := probe(r.Context()); err != nil {
			dep.Status = "unhealthy"
			dep.Error = err.Error()
			resp.Status = "degraded"
		}
		resp.Dependencies[name] = dep
	}

	resp.Timestamp = s.now().UTC().Format(time.RFC3339)
	respond.JSON(w, http.StatusOK, resp)
}

func queryLimit(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

func (s *Server) handleListAnalyses(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(r)
	if !ok {
		respond.Error(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	list, err := s.deps.Store.AnalysisHistory(r.Context(), r.URL.Query().Get("repository"), limit)
	if err != nil {
		s.internalError(w, "list analyses", err)
		return
	}
	if list == nil {
		list = []store.Analysis{}
	}
	// The raw model exchange is only returned by the single-analysis endpoint.
	for i := range list {
		list[i].Prompt, list[i].Response = "", ""
	}
	respond.JSON(w, http.StatusOK, map[string]any{"analyses": list, "count": len(list)})
}

func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respond.Error(w, http.StatusBadRequest, "Invalid analysis id")
		return
	}
	a, err := s.deps.Store.GetAnalysis(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respond.Error(w, http.StatusNotFound, "Analysis not found")
		return
	}
	if err != nil {
		s.internalError(w, "get analysis", err)
		return
	}
	respond.JSON(w, http.StatusOK, a)
}

type feedbackRequest struct {
	RemediationApplied bool   `json:"remediation_applied"`
	Success            bool   `json:"success"`
	Notes              string `json:"feedback_notes"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respond.Error(w, http.StatusBadRequest, "Invalid analysis id")
		return
	}
	var req feedbackRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		respond.Error(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	fid, err := s.deps.Store.RecordFeedback(r.Context(), store.Feedback{
		AnalysisID:         id,
		RemediationApplied: req.RemediationApplied,
		Success:            req.Success,
		Notes:              req.Notes,
	})
	if errors.Is(err, store.ErrNotFound) {
		respond.Error(w, http.StatusNotFound, "Analysis not found")
		return
	}
	if err != nil {
		s.internalError(w, "record feedback", err)
		return
	}
	respond.JSON(w, http.StatusCreated, map[string]any{"status": "recorded", "id": fid})
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Store.Statistics(r.Context())
	if err != nil {
		s.internalError(w, "statistics", err)
		return
	}
	respond.JSON(w, http.StatusOK, st)
}

func (s *Server) handleSignatures(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(r)
	if !ok {
		respond.Error(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	sigs, err := s.deps.Store.SimilarSignatures(r.Context(), r.URL.Query().Get("error_type"), limit)
	if err != nil {
		s.internalError(w, "list signatures", err)
		return
	}
	if sigs == nil {
		sigs = []store.Signature{}
	}
	respond.JSON(w, http.StatusOK, map[string]any{"signatures": sigs, "count": len(sigs)})
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error(op+" failed", zap.Error(err))
	respond.Error(w, http.StatusInternalServerError, "Internal server error")
}

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/certstate-cli/internal/certstate"
	"github.com/sells-group/certstate-cli/internal/ingest"
	"github.com/sells-group/certstate-cli/internal/model"
	"github.com/sells-group/certstate-cli/internal/store"
)

const maxListLimit = 500

type ingestRequest struct {
	Scheme          string             `json:"scheme"`
	Pages           []model.PageRecord `json:"pages"`
	InitialState    *certstate.State   `json:"initial_state,omitempty"`
	PreferOverwrite *bool              `json:"prefer_overwrite,omitempty"`
	Rules           string             `json:"rules,omitempty"`
	Resume          bool               `json:"resume,omitempty"`
}

type ingestResponse struct {
	RunID   string             `json:"run_id"`
	Status  model.RunStatus    `json:"status"`
	State   *certstate.State   `json:"state"`
	Pages   []model.PageReport `json:"pages"`
	Summary model.RunSummary   `json:"summary"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	req.Scheme = strings.TrimSpace(req.Scheme)
	if req.Scheme == "" {
		writeError(w, http.StatusBadRequest, "scheme is required")
		return
	}

	run, res, err := s.runner.Run(r.Context(), ingest.Job{
		Scheme:          req.Scheme,
		Pages:           req.Pages,
		Initial:         req.InitialState,
		Rules:           req.Rules,
		Resume:          req.Resume,
		PreferOverwrite: req.PreferOverwrite,
	})
	if err != nil {
		var ce *ingest.ConfigurationError
		if errors.As(err, &ce) {
			writeError(w, http.StatusInternalServerError, ce.Error())
			return
		}
		zap.L().Error("api: ingestion failed", zap.String("scheme", req.Scheme), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "ingestion failed: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ingestResponse{
		RunID:   run.ID,
		Status:  run.Status,
		State:   res.State,
		Pages:   res.Pages,
		Summary: res.Summary,
	})
}

func (s *Server) requireStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.store == nil {
			writeError(w, http.StatusServiceUnavailable, "no run store configured")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.RunFilter{
		Scheme: q.Get("scheme"),
		Status: model.RunStatus(q.Get("status")),
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit"), 0, maxListLimit); err != nil {
		writeError(w, http.StatusBadRequest, "limit "+err.Error())
		return
	}
	if filter.Offset, err = intParam(q.Get("offset"), 0, -1); err != nil {
		writeError(w, http.StatusBadRequest, "offset "+err.Error())
		return
	}

	runs, err := s.store.ListRuns(r.Context(), filter)
	if err != nil {
		zap.L().Error("api: list runs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleListPages(w http.ResponseWriter, r *http.Request) {
	run, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	reports, err := s.store.ListPageReports(r.Context(), run.ID)
	if err != nil {
		zap.L().Error("api: list page reports", zap.String("run_id", run.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list page reports")
		return
	}
	if reports == nil {
		reports = []model.PageReport{}
	}
	writeJSON(w, http.StatusOK, reports)
}

func (s *Server) loadRun(w http.ResponseWriter, r *http.Request) (*model.Run, bool) {
	id := chi.URLParam(r, "id")
	run, err := s.store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return nil, false
	}
	if err != nil {
		zap.L().Error("api: get run", zap.String("run_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return nil, false
	}
	return run, true
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		writeError(w, http.StatusServiceUnavailable, "no run store configured")
		return
	}
	hours, err := intParam(r.URL.Query().Get("hours"), defaultLookbackHours, -1)
	if err != nil || hours <= 0 {
		writeError(w, http.StatusBadRequest, "hours must be a positive integer")
		return
	}
	snap, err := s.stats.Collect(r.Context(), hours)
	if err != nil {
		zap.L().Error("api: collect stats", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to collect stats")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// intParam parses a non-negative query value. Empty yields def; limit < 0
// means unbounded.
func intParam(raw string, def, limit int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("must be a non-negative integer")
	}
	if limit >= 0 && n > limit {
		n = limit
	}
	return n, nil
}

package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"commercepulse/internal/models"

	"github.com/google/uuid"
)

type enqueueRequest struct {
	IntegrationID string `json:"integration_id"`
	JobType       string `json:"job_type"`
}

// handleAdminEnqueue inserts one queued run for an integration, e.g. a manual
// window_fill after reconnecting a shop.
func (s *Server) handleAdminEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	integrationID, err := uuid.Parse(req.IntegrationID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid integration_id")
		return
	}
	jobType := models.JobType(req.JobType)
	if !jobType.Known() {
		writeError(w, http.StatusBadRequest, "unknown job_type")
		return
	}

	runID, err := s.store.EnqueueRun(r.Context(), integrationID, jobType, "user")
	if err != nil {
		log.Printf("[api] admin enqueue failed: %v", err)
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}

	log.Printf("[api] admin %s enqueued %s for integration %s",
		AdminSubjectFromContext(r.Context()), jobType, integrationID)
	writeJSON(w, http.StatusCreated, map[string]any{
		"run_id":   runID,
		"job_type": jobType,
		"status":   models.RunQueued,
	})
}

type sweepRequest struct {
	OlderThanMinutes int `json:"older_than_minutes"`
}

// handleAdminSweep reclaims runs stuck in running, marking them
// error/abandoned.
func (s *Server) handleAdminSweep(w http.ResponseWriter, r *http.Request) {
	req := sweepRequest{OlderThanMinutes: s.cfg.SweepRunningMinutes}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid body")
			return
		}
	}
	if req.OlderThanMinutes < 5 {
		req.OlderThanMinutes = 5
	}

	swept, err := s.store.SweepAbandonedRuns(r.Context(), time.Duration(req.OlderThanMinutes)*time.Minute)
	if err != nil {
		log.Printf("[api] admin sweep failed: %v", err)
		writeError(w, http.StatusInternalServerError, "sweep failed")
		return
	}
	if swept > 0 {
		log.Printf("[api] admin sweep reclaimed %d runs older than %dm", swept, req.OlderThanMinutes)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"swept":              swept,
		"older_than_minutes": req.OlderThanMinutes,
	})
}

func (s *Server) handleAdminListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	runs, err := s.store.ListRecentRuns(r.Context(), limit)
	if err != nil {
		log.Printf("[api] admin list runs failed: %v", err)
		writeError(w, http.StatusInternalServerError, "listing failed")
		return
	}
	if runs == nil {
		runs = []models.SyncRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

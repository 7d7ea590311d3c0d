package api

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"commercepulse/internal/models"
)

const statusCacheTTL = 10 * time.Second

// handleStatus serves the operational snapshot: queue depth by status and
// per-integration health. Cached briefly because dashboards poll it.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.statusCache.mu.Lock()
	if time.Now().Before(s.statusCache.expiresAt) && len(s.statusCache.payload) > 0 {
		payload := s.statusCache.payload
		s.statusCache.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Write(payload)
		return
	}
	s.statusCache.mu.Unlock()

	payload, err := s.buildStatusPayload(r)
	if err != nil {
		log.Printf("[api] status build failed: %v", err)
		writeError(w, http.StatusInternalServerError, "status unavailable")
		return
	}

	s.statusCache.mu.Lock()
	s.statusCache.payload = payload
	s.statusCache.expiresAt = time.Now().Add(statusCacheTTL)
	s.statusCache.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.Write(payload)
}

func (s *Server) buildStatusPayload(r *http.Request) ([]byte, error) {
	ctx := r.Context()

	counts, err := s.store.RunCountsByStatus(ctx)
	if err != nil {
		return nil, err
	}
	health, err := s.store.ListIntegrationHealth(ctx)
	if err != nil {
		return nil, err
	}
	if health == nil {
		health = []models.IntegrationHealth{}
	}

	return json.Marshal(map[string]any{
		"generated_at": time.Now().UTC().Format(time.RFC3339),
		"runs":         counts,
		"integrations": health,
		"config": map[string]any{
			"poll_interval_ms":        s.cfg.PollInterval.Milliseconds(),
			"attribution_window_days": s.cfg.AttributionWindowDays,
			"ads_jobs_enabled":        s.cfg.AdsJobsEnabled,
		},
	})
}

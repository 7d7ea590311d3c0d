package api

import (
	"crypto/subtle"
	"log"
	"net/http"
	"strings"

	"commercepulse/internal/models"
)

// handleCronCommerce enqueues one commerce_fresh run per healthy commerce
// integration that has none pending. Driven by an external cron; safe to call
// arbitrarily often because dedup lives in the insert statement.
func (s *Server) handleCronCommerce(w http.ResponseWriter, r *http.Request) {
	s.handleCron(w, r, models.IntegrationCommerce, models.JobCommerceFresh,
		s.cfg.CommerceFreshSchedMinutes, true)
}

func (s *Server) handleCronAds(w http.ResponseWriter, r *http.Request) {
	s.handleCron(w, r, models.IntegrationAds, models.JobAdsFresh,
		s.cfg.AdsFreshSchedMinutes, s.cfg.AdsJobsEnabled)
}

func (s *Server) handleCron(w http.ResponseWriter, r *http.Request, integrationType string, jobType models.JobType, intervalMinutes int, enabled bool) {
	if !s.cronAuthorized(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if !enabled {
		writeJSON(w, http.StatusAccepted, map[string]any{
			"inserted": 0,
			"jobType":  jobType,
			"message":  "disabled",
		})
		return
	}

	inserted, err := s.store.EnqueueFreshRuns(r.Context(), integrationType, jobType, intervalMinutes)
	if err != nil {
		log.Printf("[api] cron %s: enqueue failed: %v", jobType, err)
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}
	if inserted > 0 {
		log.Printf("[api] cron %s: enqueued %d runs", jobType, inserted)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"inserted":        inserted,
		"jobType":         jobType,
		"intervalMinutes": intervalMinutes,
	})
}

// cronAuthorized accepts X-Cron-Secret or a bearer token matching
// CRON_SECRET. An empty secret disables the check (trusted-network
// deployments).
func (s *Server) cronAuthorized(r *http.Request) bool {
	secret := s.cfg.CronSecret
	if secret == "" {
		return true
	}
	if v := r.Header.Get("X-Cron-Secret"); v != "" {
		return subtle.ConstantTimeCompare([]byte(v), []byte(secret)) == 1
	}
	if auth := r.Header.Get("Authorization"); auth != "" {
		token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		return subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1
	}
	return false
}

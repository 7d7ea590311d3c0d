package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"commercepulse/internal/config"
	"commercepulse/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// Store is the repository surface the API server reads and writes;
// *repository.Repository implements it.
type Store interface {
	Ping(ctx context.Context) error
	EnqueueFreshRuns(ctx context.Context, integrationType string, jobType models.JobType, intervalMinutes int) (int64, error)
	EnqueueRun(ctx context.Context, integrationID uuid.UUID, jobType models.JobType, trigger string) (uuid.UUID, error)
	SweepAbandonedRuns(ctx context.Context, olderThan time.Duration) (int64, error)
	ListRecentRuns(ctx context.Context, limit int) ([]models.SyncRun, error)
	RunCountsByStatus(ctx context.Context) (map[string]int64, error)
	ListIntegrationHealth(ctx context.Context) ([]models.IntegrationHealth, error)
}

type Server struct {
	store      Store
	cfg        *config.Config
	httpServer *http.Server
	hub        *Hub
	router     *mux.Router
	startedAt  time.Time
	ready      atomic.Bool

	statusCache struct {
		mu        sync.Mutex
		payload   []byte
		expiresAt time.Time
	}
}

func NewServer(store Store, cfg *config.Config) *Server {
	s := &Server{
		store:     store,
		cfg:       cfg,
		hub:       newHub(),
		startedAt: time.Now(),
	}

	r := mux.NewRouter()
	r.Use(commonMiddleware)
	r.Use(rateLimitMiddleware)

	r.HandleFunc("/", s.handleHealth).Methods("GET")
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/status", s.handleStatus).Methods("GET")

	r.HandleFunc("/cron/commerce", s.handleCronCommerce).Methods("GET", "POST")
	r.HandleFunc("/cron/ads", s.handleCronAds).Methods("GET", "POST")

	r.HandleFunc("/ws/runs", s.handleRunsWebSocket)

	// Admin surface stays off entirely unless a secret is configured.
	if cfg.AdminJWTSecret != "" {
		auth := newAdminAuth(cfg.AdminJWTSecret)
		admin := r.PathPrefix("/admin").Subrouter()
		admin.Use(auth.Middleware)
		admin.HandleFunc("/runs/enqueue", s.handleAdminEnqueue).Methods("POST")
		admin.HandleFunc("/runs/sweep", s.handleAdminSweep).Methods("POST")
		admin.HandleFunc("/runs", s.handleAdminListRuns).Methods("GET")
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})

	s.router = r
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HealthPort),
		Handler: r,
	}
	go s.hub.run()

	return s
}

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// MarkReady flips the health endpoint to 200. Called by main after the first
// successful database probe.
func (s *Server) MarkReady() {
	s.ready.Store(true)
}

// handleHealth reports 503 until the database has answered once since process
// start, then 200 with uptime.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":         "starting",
			"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
			"timestamp":      time.Now().UTC().Format(time.RFC3339),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}

func commonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Cron-Secret")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

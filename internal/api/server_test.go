package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"commercepulse/internal/config"
	"commercepulse/internal/models"

	"github.com/google/uuid"
)

type fakeStore struct {
	pingErr  error
	inserted int64
	enqueued []models.JobType
	swept    int64
	sweptAge time.Duration
	runs     []models.SyncRun
	counts   map[string]int64
	health   []models.IntegrationHealth
}

func (f *fakeStore) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeStore) EnqueueFreshRuns(ctx context.Context, integrationType string, jobType models.JobType, intervalMinutes int) (int64, error) {
	f.enqueued = append(f.enqueued, jobType)
	return f.inserted, nil
}

func (f *fakeStore) EnqueueRun(ctx context.Context, integrationID uuid.UUID, jobType models.JobType, trigger string) (uuid.UUID, error) {
	f.enqueued = append(f.enqueued, jobType)
	return uuid.New(), nil
}

func (f *fakeStore) SweepAbandonedRuns(ctx context.Context, olderThan time.Duration) (int64, error) {
	f.sweptAge = olderThan
	return f.swept, nil
}

func (f *fakeStore) ListRecentRuns(ctx context.Context, limit int) ([]models.SyncRun, error) {
	return f.runs, nil
}

func (f *fakeStore) RunCountsByStatus(ctx context.Context) (map[string]int64, error) {
	if f.counts == nil {
		return map[string]int64{}, nil
	}
	return f.counts, nil
}

func (f *fakeStore) ListIntegrationHealth(ctx context.Context) ([]models.IntegrationHealth, error) {
	return f.health, nil
}

func testConfig() *config.Config {
	return &config.Config{
		PollInterval:              5 * time.Second,
		HealthPort:                3000,
		CommerceFreshSchedMinutes: 60,
		AdsFreshSchedMinutes:      60,
		SweepRunningMinutes:       30,
		AttributionWindowDays:     7,
		AdsJobsEnabled:            true,
	}
}

func TestHealthBeforeAndAfterReady(t *testing.T) {
	s := NewServer(&fakeStore{}, testConfig())

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != 503 {
		t.Errorf("expected 503 before readiness, got %d", rec.Code)
	}
	var starting map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &starting); err != nil {
		t.Fatalf("starting payload: %v", err)
	}
	if _, ok := starting["uptime_seconds"]; !ok {
		t.Error("expected uptime_seconds while starting")
	}
	if _, ok := starting["timestamp"]; !ok {
		t.Error("expected timestamp while starting")
	}

	s.MarkReady()

	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != 200 {
		t.Errorf("expected 200 after readiness, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("health payload: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status: %v", body["status"])
	}
	if _, ok := body["uptime_seconds"]; !ok {
		t.Error("expected uptime_seconds")
	}
	if _, ok := body["timestamp"]; !ok {
		t.Error("expected timestamp")
	}
}

func TestRootServesHealth(t *testing.T) {
	s := NewServer(&fakeStore{}, testConfig())
	s.MarkReady()

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != 200 {
		t.Errorf("expected 200 at /, got %d", rec.Code)
	}
}

func TestUnknownPath404(t *testing.T) {
	s := NewServer(&fakeStore{}, testConfig())
	s.MarkReady()

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest("GET", "/nope", nil))
	if rec.Code != 404 {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestStatusPayload(t *testing.T) {
	store := &fakeStore{
		counts: map[string]int64{"queued": 2, "success": 10},
		health: []models.IntegrationHealth{
			{IntegrationID: uuid.New(), Type: models.IntegrationCommerce, Status: models.IntegrationConnected},
		},
	}
	s := NewServer(store, testConfig())
	s.MarkReady()

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest("GET", "/status", nil))
	if rec.Code != 200 {
		t.Fatalf("status: %d", rec.Code)
	}

	var body struct {
		Runs         map[string]int64 `json:"runs"`
		Integrations []any            `json:"integrations"`
		GeneratedAt  string           `json:"generated_at"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if body.Runs["queued"] != 2 {
		t.Errorf("queue depth: %v", body.Runs)
	}
	if len(body.Integrations) != 1 {
		t.Errorf("integrations: %v", body.Integrations)
	}
	if body.GeneratedAt == "" {
		t.Error("expected generated_at")
	}
}

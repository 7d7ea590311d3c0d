package worker

import (
	"context"
	"strings"
	"testing"
	"time"

	"commercepulse/internal/ads"
	"commercepulse/internal/commerce"
	"commercepulse/internal/models"

	"github.com/google/uuid"
)

type failCall struct {
	code        string
	message     string
	rateLimited bool
	resetAt     *time.Time
}

type fakeRunStore struct {
	completed   map[uuid.UUID]models.RunStats
	failed      map[uuid.UUID]failCall
	markedError []uuid.UUID
}

func newFakeRunStore() *fakeRunStore {
	return &fakeRunStore{
		completed: make(map[uuid.UUID]models.RunStats),
		failed:    make(map[uuid.UUID]failCall),
	}
}

func (f *fakeRunStore) ClaimNextRun(ctx context.Context) (*models.SyncRun, error) {
	return nil, nil
}

func (f *fakeRunStore) CompleteRun(ctx context.Context, runID uuid.UUID, stats models.RunStats) error {
	f.completed[runID] = stats
	return nil
}

func (f *fakeRunStore) FailRun(ctx context.Context, runID uuid.UUID, code, message string, rateLimited bool, resetAt *time.Time) error {
	f.failed[runID] = failCall{code: code, message: message, rateLimited: rateLimited, resetAt: resetAt}
	return nil
}

func (f *fakeRunStore) MarkIntegrationError(ctx context.Context, integrationID uuid.UUID) error {
	f.markedError = append(f.markedError, integrationID)
	return nil
}

type stubHandler struct {
	stats models.RunStats
	err   error
}

func (h *stubHandler) Handle(ctx context.Context, run *models.SyncRun) (models.RunStats, error) {
	return h.stats, h.err
}

func testRun(jt models.JobType) *models.SyncRun {
	return &models.SyncRun{
		ID:            uuid.New(),
		IntegrationID: uuid.New(),
		JobType:       jt,
		Trigger:       "auto",
		Status:        models.RunRunning,
	}
}

func TestProcessSuccess(t *testing.T) {
	store := newFakeRunStore()
	d := NewDispatcher(store, time.Second)
	d.Register(models.JobCommerceFresh, &stubHandler{stats: models.RunStats{Fetched: 3, Persisted: 3}})

	var events []RunEvent
	d.OnEvent(func(ev RunEvent) { events = append(events, ev) })

	run := testRun(models.JobCommerceFresh)
	d.process(context.Background(), run)

	stats, ok := store.completed[run.ID]
	if !ok {
		t.Fatal("expected CompleteRun")
	}
	if stats.Fetched != 3 {
		t.Errorf("stats: %+v", stats)
	}
	if len(events) != 2 || events[0].Status != models.RunRunning || events[1].Status != models.RunSuccess {
		t.Errorf("events: %+v", events)
	}
}

func TestProcessUnknownJobType(t *testing.T) {
	store := newFakeRunStore()
	d := NewDispatcher(store, time.Second)

	run := testRun(models.JobType("legacy_resync"))
	d.process(context.Background(), run)

	call, ok := store.failed[run.ID]
	if !ok {
		t.Fatal("expected FailRun")
	}
	if call.code != models.ErrCodeUnknownJob {
		t.Errorf("expected unknown_job_type, got %q", call.code)
	}
	if call.rateLimited {
		t.Error("unknown job type must not set rate_limited")
	}
}

func TestProcessDisabledHandlerIsNotUnknownType(t *testing.T) {
	store := newFakeRunStore()
	d := NewDispatcher(store, time.Second)
	// Ads handlers not registered, as when ADS_JOBS_ENABLED=false.
	d.Register(models.JobCommerceFresh, &stubHandler{})

	run := testRun(models.JobAdsFresh)
	d.process(context.Background(), run)

	call, ok := store.failed[run.ID]
	if !ok {
		t.Fatal("expected FailRun")
	}
	if call.code != models.ErrCodeWorker {
		t.Errorf("expected worker_error for a disabled handler, got %q", call.code)
	}
	if !strings.Contains(call.message, "disabled") {
		t.Errorf("message should say the handler is disabled, got %q", call.message)
	}
}

func TestProcessRateLimitedSetsReset(t *testing.T) {
	store := newFakeRunStore()
	d := NewDispatcher(store, time.Second)
	d.Register(models.JobAdsFresh, &stubHandler{err: &ads.Error{Code: models.ErrCodeRateLimited, Message: "http 429"}})

	run := testRun(models.JobAdsFresh)
	before := time.Now()
	d.process(context.Background(), run)

	call, ok := store.failed[run.ID]
	if !ok {
		t.Fatal("expected FailRun")
	}
	if call.code != models.ErrCodeRateLimited {
		t.Errorf("expected rate_limited, got %q", call.code)
	}
	if !call.rateLimited {
		t.Error("expected rate_limited flag on the run")
	}
	if call.resetAt == nil {
		t.Fatal("expected a reset timestamp")
	}
	hold := call.resetAt.Sub(before)
	if hold < 4*time.Minute || hold > 6*time.Minute {
		t.Errorf("reset should be ~5m out, got %s", hold)
	}
	if len(store.markedError) != 0 {
		t.Error("rate limiting must not flip the integration to error")
	}
}

func TestProcessAuthErrorMarksIntegration(t *testing.T) {
	store := newFakeRunStore()
	d := NewDispatcher(store, time.Second)
	d.Register(models.JobCommerceFresh, &stubHandler{err: &commerce.Error{Code: models.ErrCodeAuth, Message: "token revoked"}})

	var events []RunEvent
	d.OnEvent(func(ev RunEvent) { events = append(events, ev) })

	run := testRun(models.JobCommerceFresh)
	d.process(context.Background(), run)

	call := store.failed[run.ID]
	if call.code != models.ErrCodeAuth {
		t.Errorf("expected auth_error, got %q", call.code)
	}
	if len(store.markedError) != 1 || store.markedError[0] != run.IntegrationID {
		t.Errorf("expected the integration flagged, got %v", store.markedError)
	}
	if events[len(events)-1].ErrorCode != models.ErrCodeAuth {
		t.Errorf("error event: %+v", events[len(events)-1])
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	store := newFakeRunStore()
	d := NewDispatcher(store, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after cancel")
	}
}

package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"commercepulse/internal/models"
	"commercepulse/internal/timeutil"

	"github.com/google/uuid"
)

// rateLimitHold is how long the scheduler must wait before enqueueing new
// work for an integration whose run died rate-limited.
const rateLimitHold = 5 * time.Minute

// panicPause backs the loop off after a handler panic so a persistently
// crashing handler cannot spin the queue.
const panicPause = 5 * time.Second

// Store is the run-lifecycle surface the dispatcher needs; *repository.Repository
// implements it.
type Store interface {
	ClaimNextRun(ctx context.Context) (*models.SyncRun, error)
	CompleteRun(ctx context.Context, runID uuid.UUID, stats models.RunStats) error
	FailRun(ctx context.Context, runID uuid.UUID, code, message string, rateLimited bool, resetAt *time.Time) error
	MarkIntegrationError(ctx context.Context, integrationID uuid.UUID) error
}

// Handler executes one claimed run to completion.
type Handler interface {
	Handle(ctx context.Context, run *models.SyncRun) (models.RunStats, error)
}

// RunEvent is published on every run state transition. The API server feeds
// these to websocket subscribers.
type RunEvent struct {
	RunID         uuid.UUID      `json:"run_id"`
	IntegrationID uuid.UUID      `json:"integration_id"`
	JobType       models.JobType `json:"job_type"`
	Status        string         `json:"status"`
	ErrorCode     string         `json:"error_code,omitempty"`
	At            time.Time      `json:"at"`
}

// Dispatcher claims queued runs one at a time and drives them through a
// registered handler. Multiple replicas coordinate purely through the
// database row locks; the dispatcher holds no cross-iteration state.
type Dispatcher struct {
	store        Store
	handlers     map[models.JobType]Handler
	pollInterval time.Duration
	onEvent      func(RunEvent)
}

func NewDispatcher(store Store, pollInterval time.Duration) *Dispatcher {
	return &Dispatcher{
		store:        store,
		handlers:     make(map[models.JobType]Handler),
		pollInterval: pollInterval,
	}
}

// Register binds a handler to a job type. Not safe to call after Run starts.
func (d *Dispatcher) Register(jt models.JobType, h Handler) {
	d.handlers[jt] = h
}

// OnEvent sets the transition callback. Called synchronously from the loop;
// the callback must not block.
func (d *Dispatcher) OnEvent(fn func(RunEvent)) {
	d.onEvent = fn
}

// Run loops until ctx is cancelled. An in-flight run is drained to
// completion even after cancellation: the claim already flipped the row to
// running, and abandoning it would leave it for the sweeper.
func (d *Dispatcher) Run(ctx context.Context) {
	log.Printf("[dispatcher] started, poll interval %s", d.pollInterval)
	for {
		if ctx.Err() != nil {
			log.Printf("[dispatcher] stopping: %v", ctx.Err())
			return
		}

		run, err := d.store.ClaimNextRun(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("[dispatcher] claim failed: %v", err)
				timeutil.Sleep(ctx, d.pollInterval)
			}
			continue
		}
		if run == nil {
			timeutil.Sleep(ctx, d.pollInterval)
			continue
		}

		d.process(context.WithoutCancel(ctx), run)
	}
}

func (d *Dispatcher) process(ctx context.Context, run *models.SyncRun) {
	log.Printf("[dispatcher] run %s claimed: %s integration=%s trigger=%s",
		run.ID, run.JobType, run.IntegrationID, run.Trigger)
	d.emit(run, models.RunRunning, "")

	defer func() {
		if r := recover(); r != nil {
			msg := truncateMessage(fmt.Sprintf("handler panic: %v", r))
			log.Printf("[dispatcher] run %s panicked: %v", run.ID, r)
			if err := d.store.FailRun(ctx, run.ID, models.ErrCodeWorker, msg, false, nil); err != nil {
				log.Printf("[dispatcher] run %s: recording panic failed: %v", run.ID, err)
			}
			d.emit(run, models.RunError, models.ErrCodeWorker)
			time.Sleep(panicPause)
		}
	}()

	if !run.JobType.Known() {
		log.Printf("[dispatcher] run %s: unknown job type %q", run.ID, run.JobType)
		if err := d.store.FailRun(ctx, run.ID, models.ErrCodeUnknownJob,
			fmt.Sprintf("no handler for job type %q", run.JobType), false, nil); err != nil {
			log.Printf("[dispatcher] run %s: terminate failed: %v", run.ID, err)
		}
		d.emit(run, models.RunError, models.ErrCodeUnknownJob)
		return
	}

	// A known type with no handler means the handler is disabled on this
	// replica (e.g. ADS_JOBS_ENABLED=false); that is not an unknown type.
	handler, ok := d.handlers[run.JobType]
	if !ok {
		log.Printf("[dispatcher] run %s: handler for %q disabled", run.ID, run.JobType)
		if err := d.store.FailRun(ctx, run.ID, models.ErrCodeWorker,
			fmt.Sprintf("handler for job type %q is disabled", run.JobType), false, nil); err != nil {
			log.Printf("[dispatcher] run %s: terminate failed: %v", run.ID, err)
		}
		d.emit(run, models.RunError, models.ErrCodeWorker)
		return
	}

	started := time.Now()
	stats, err := handler.Handle(ctx, run)
	if err != nil {
		code, message := classify(err)

		rateLimited := code == models.ErrCodeRateLimited
		var resetAt *time.Time
		if rateLimited {
			t := time.Now().Add(rateLimitHold)
			resetAt = &t
		}

		log.Printf("[dispatcher] run %s failed after %s: %s: %s",
			run.ID, time.Since(started).Round(time.Millisecond), code, message)
		if ferr := d.store.FailRun(ctx, run.ID, code, message, rateLimited, resetAt); ferr != nil {
			log.Printf("[dispatcher] run %s: terminate failed: %v", run.ID, ferr)
		}

		// A dead token means every future run fails the same way; flag the
		// integration so onboarding can prompt a reconnect.
		if code == models.ErrCodeAuth {
			if merr := d.store.MarkIntegrationError(ctx, run.IntegrationID); merr != nil {
				log.Printf("[dispatcher] run %s: marking integration error failed: %v", run.ID, merr)
			}
		}
		d.emit(run, models.RunError, code)
		return
	}

	if err := d.store.CompleteRun(ctx, run.ID, stats); err != nil {
		log.Printf("[dispatcher] run %s: completing failed: %v", run.ID, err)
		return
	}
	log.Printf("[dispatcher] run %s succeeded in %s: fetched=%d persisted=%d dates=%d api_calls=%d",
		run.ID, time.Since(started).Round(time.Millisecond),
		stats.Fetched, stats.Persisted, len(stats.DatesAffected), stats.APICalls)
	d.emit(run, models.RunSuccess, "")
}

func (d *Dispatcher) emit(run *models.SyncRun, status, errorCode string) {
	if d.onEvent == nil {
		return
	}
	d.onEvent(RunEvent{
		RunID:         run.ID,
		IntegrationID: run.IntegrationID,
		JobType:       run.JobType,
		Status:        status,
		ErrorCode:     errorCode,
		At:            time.Now().UTC(),
	})
}

package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"commercepulse/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ClaimNextRun picks one queued run under FOR UPDATE SKIP LOCKED and flips it
// to running inside the same transaction, so concurrent worker replicas never
// claim the same row. Returns (nil, nil) when the queue is empty.
//
// Ordering is created_at ASC for fairness; no client-side filter beyond the
// rate-limit reset guard, so no queued row can be starved.
func (r *Repository) ClaimNextRun(ctx context.Context) (*models.SyncRun, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var run models.SyncRun
	err = tx.QueryRow(ctx, `
		SELECT id, integration_id, job_type, trigger, created_at, retry_count
		FROM sync_runs
		WHERE status = 'queued'
		  AND (NOT rate_limited OR rate_limit_reset_at <= NOW())
		ORDER BY created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`,
	).Scan(&run.ID, &run.IntegrationID, &run.JobType, &run.Trigger, &run.CreatedAt, &run.RetryCount)
	if err == pgx.ErrNoRows {
		return nil, tx.Commit(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("claim select: %w", err)
	}

	var startedAt time.Time
	err = tx.QueryRow(ctx, `
		UPDATE sync_runs
		SET status = 'running',
		    started_at = NOW(),
		    error_code = NULL,
		    error_message = NULL
		WHERE id = $1
		RETURNING started_at`,
		run.ID,
	).Scan(&startedAt)
	if err != nil {
		return nil, fmt.Errorf("claim update: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	run.Status = models.RunRunning
	run.StartedAt = &startedAt
	return &run, nil
}

// CompleteRun terminates a run as success with its stats payload.
func (r *Repository) CompleteRun(ctx context.Context, runID uuid.UUID, stats models.RunStats) error {
	payload, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		UPDATE sync_runs
		SET status = 'success', finished_at = NOW(), stats = $2
		WHERE id = $1 AND status = 'running'`,
		runID, payload,
	)
	return err
}

// FailRun terminates a run as error. When the failure was a rate limit, the
// reset timestamp is recorded so the scheduler holds off on re-enqueueing for
// that integration until it passes. The status guard keeps a late failure
// from overwriting a run the sweeper already terminated.
func (r *Repository) FailRun(ctx context.Context, runID uuid.UUID, code, message string, rateLimited bool, resetAt *time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE sync_runs
		SET status = 'error',
		    finished_at = NOW(),
		    error_code = $2,
		    error_message = $3,
		    rate_limited = $4,
		    rate_limit_reset_at = $5
		WHERE id = $1 AND status = 'running'`,
		runID, code, message, rateLimited, resetAt,
	)
	return err
}

// EnqueueFreshRuns inserts one queued <type>_fresh run per healthy
// integration of the given type, skipping integrations that already have a
// queued or running fresh run created within the dedup interval, and
// integrations still inside a rate-limit backoff. One statement, safe to call
// arbitrarily often.
func (r *Repository) EnqueueFreshRuns(ctx context.Context, integrationType string, jobType models.JobType, intervalMinutes int) (int64, error) {
	cmd, err := r.db.Exec(ctx, `
		INSERT INTO sync_runs (id, integration_id, job_type, trigger, status, created_at)
		SELECT gen_random_uuid(), i.id, $1, 'auto', 'queued', NOW()
		FROM integrations i
		WHERE i.type = $2
		  AND i.status IN ('connected', 'active')
		  AND NOT EXISTS (
		      SELECT 1 FROM sync_runs r
		      WHERE r.integration_id = i.id
		        AND r.job_type = $1
		        AND r.status IN ('queued', 'running')
		        AND r.created_at > NOW() - make_interval(mins => $3)
		  )
		  AND NOT EXISTS (
		      SELECT 1 FROM sync_runs r
		      WHERE r.integration_id = i.id
		        AND r.rate_limited
		        AND r.rate_limit_reset_at > NOW()
		  )`,
		string(jobType), integrationType, intervalMinutes,
	)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

// EnqueueRun inserts a single queued run (admin / manual trigger path).
func (r *Repository) EnqueueRun(ctx context.Context, integrationID uuid.UUID, jobType models.JobType, trigger string) (uuid.UUID, error) {
	id := uuid.New()
	_, err := r.db.Exec(ctx, `
		INSERT INTO sync_runs (id, integration_id, job_type, trigger, status, created_at)
		VALUES ($1, $2, $3, $4, 'queued', NOW())`,
		id, integrationID, string(jobType), trigger,
	)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// SweepAbandonedRuns marks runs stuck in running longer than the threshold as
// error/abandoned. A killed worker rolls back its warehouse transaction but
// leaves the claimed row in running; this reclaims them.
func (r *Repository) SweepAbandonedRuns(ctx context.Context, olderThan time.Duration) (int64, error) {
	cmd, err := r.db.Exec(ctx, `
		UPDATE sync_runs
		SET status = 'error',
		    finished_at = NOW(),
		    error_code = 'abandoned',
		    error_message = 'no heartbeat; swept after ' || $1 || ' minutes'
		WHERE status = 'running'
		  AND started_at < NOW() - make_interval(mins => $1)`,
		int(olderThan.Minutes()),
	)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

// ListRecentRuns returns the newest runs first, for the admin listing.
func (r *Repository) ListRecentRuns(ctx context.Context, limit int) ([]models.SyncRun, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, integration_id, job_type, trigger, status, created_at,
		       started_at, finished_at, rate_limited, rate_limit_reset_at,
		       retry_count, COALESCE(error_code, ''), COALESCE(error_message, ''), stats
		FROM sync_runs
		ORDER BY created_at DESC
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SyncRun
	for rows.Next() {
		var run models.SyncRun
		if err := rows.Scan(
			&run.ID, &run.IntegrationID, &run.JobType, &run.Trigger, &run.Status, &run.CreatedAt,
			&run.StartedAt, &run.FinishedAt, &run.RateLimited, &run.RateLimitResetAt,
			&run.RetryCount, &run.ErrorCode, &run.ErrorMessage, &run.Stats,
		); err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// RunCountsByStatus returns queue depth per status for /status.
func (r *Repository) RunCountsByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.Query(ctx, `
		SELECT status, COUNT(*) FROM sync_runs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

package repository

import (
	"context"

	"commercepulse/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CursorCommerceUpdatedAt is the watermark key for incremental commerce
// syncs. Values are RFC3339 UTC strings, so lexicographic order matches
// chronological order and GREATEST() enforces monotonicity in SQL.
const CursorCommerceUpdatedAt = "last_synced_order_updated_at"

// GetCursor returns the stored watermark, or "" when none exists.
func (r *Repository) GetCursor(ctx context.Context, integrationID uuid.UUID, jobType models.JobType, key string) (string, error) {
	return getCursor(ctx, r.db, integrationID, jobType, key)
}

// AdvanceCursor moves the watermark forward, never backward. Writing a value
// older than the stored one is a no-op.
func (r *Repository) AdvanceCursor(ctx context.Context, integrationID uuid.UUID, jobType models.JobType, key, value string) error {
	return AdvanceCursorTx(ctx, r.db, integrationID, jobType, key, value)
}

// InitCursorIfAbsent writes an initial watermark only when none exists.
// Returns true if this call created the row.
func (r *Repository) InitCursorIfAbsent(ctx context.Context, integrationID uuid.UUID, jobType models.JobType, key, value string) (bool, error) {
	return InitCursorIfAbsentTx(ctx, r.db, integrationID, jobType, key, value)
}

func getCursor(ctx context.Context, db DBTX, integrationID uuid.UUID, jobType models.JobType, key string) (string, error) {
	var value string
	err := db.QueryRow(ctx, `
		SELECT cursor_value FROM sync_cursors
		WHERE integration_id = $1 AND job_type = $2 AND cursor_key = $3`,
		integrationID, string(jobType), key,
	).Scan(&value)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// AdvanceCursorTx is AdvanceCursor against an explicit pool or transaction,
// so handlers can bind the cursor write into the warehouse transaction.
func AdvanceCursorTx(ctx context.Context, db DBTX, integrationID uuid.UUID, jobType models.JobType, key, value string) error {
	_, err := db.Exec(ctx, `
		INSERT INTO sync_cursors (integration_id, job_type, cursor_key, cursor_value, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (integration_id, job_type, cursor_key) DO UPDATE SET
			cursor_value = GREATEST(sync_cursors.cursor_value, EXCLUDED.cursor_value),
			updated_at = NOW()`,
		integrationID, string(jobType), key, value,
	)
	return err
}

// InitCursorIfAbsentTx is InitCursorIfAbsent against an explicit pool or
// transaction.
func InitCursorIfAbsentTx(ctx context.Context, db DBTX, integrationID uuid.UUID, jobType models.JobType, key, value string) (bool, error) {
	cmd, err := db.Exec(ctx, `
		INSERT INTO sync_cursors (integration_id, job_type, cursor_key, cursor_value, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (integration_id, job_type, cursor_key) DO NOTHING`,
		integrationID, string(jobType), key, value,
	)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

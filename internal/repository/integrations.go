package repository

import (
	"context"
	"fmt"

	"commercepulse/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Secret keys the worker reads. Rotation happens in the OAuth flow; the
// worker only ever selects.
const (
	SecretCommerceOfflineToken = "commerce_offline_token"
	SecretAdsAccessToken       = "ads_access_token"
)

// GetIntegration loads one integration with its account currency.
func (r *Repository) GetIntegration(ctx context.Context, id uuid.UUID) (*models.Integration, error) {
	var integ models.Integration
	err := r.db.QueryRow(ctx, `
		SELECT i.id, i.account_id, i.type, i.status, i.external_ref,
		       a.currency, i.created_at, i.updated_at
		FROM integrations i
		JOIN accounts a ON a.id = i.account_id
		WHERE i.id = $1`,
		id,
	).Scan(&integ.ID, &integ.AccountID, &integ.Type, &integ.Status, &integ.ExternalRef,
		&integ.Currency, &integ.CreatedAt, &integ.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("integration %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &integ, nil
}

// GetIntegrationSecret returns the credential value for (integration, key).
func (r *Repository) GetIntegrationSecret(ctx context.Context, integrationID uuid.UUID, key string) (string, error) {
	var value string
	err := r.db.QueryRow(ctx, `
		SELECT value FROM integration_secrets
		WHERE integration_id = $1 AND key = $2`,
		integrationID, key,
	).Scan(&value)
	if err == pgx.ErrNoRows {
		return "", fmt.Errorf("secret %q missing for integration %s", key, integrationID)
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// MarkIntegrationError flips an integration to error status. Called on fatal
// auth failures; status is the only integration column the worker writes.
func (r *Repository) MarkIntegrationError(ctx context.Context, integrationID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
		UPDATE integrations
		SET status = 'error', updated_at = NOW()
		WHERE id = $1`,
		integrationID,
	)
	return err
}

// ListIntegrationHealth returns the last success / last attempt per
// integration for the /status endpoint.
func (r *Repository) ListIntegrationHealth(ctx context.Context) ([]models.IntegrationHealth, error) {
	rows, err := r.db.Query(ctx, `
		SELECT i.id, i.type, i.status,
		       (SELECT MAX(finished_at) FROM sync_runs r
		        WHERE r.integration_id = i.id AND r.status = 'success'),
		       (SELECT MAX(created_at) FROM sync_runs r
		        WHERE r.integration_id = i.id),
		       COALESCE((SELECT error_code FROM sync_runs r
		        WHERE r.integration_id = i.id AND r.status = 'error'
		        ORDER BY finished_at DESC NULLS LAST LIMIT 1), '')
		FROM integrations i
		ORDER BY i.created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.IntegrationHealth
	for rows.Next() {
		var h models.IntegrationHealth
		if err := rows.Scan(&h.IntegrationID, &h.Type, &h.Status,
			&h.LastSuccessAt, &h.LastAttemptAt, &h.LastErrorCode); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

package worker

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"commercepulse/internal/commerce"
	"commercepulse/internal/models"
	"commercepulse/internal/repository"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CommerceStore is what the commerce handlers need from the repository.
type CommerceStore interface {
	GetIntegration(ctx context.Context, id uuid.UUID) (*models.Integration, error)
	GetIntegrationSecret(ctx context.Context, integrationID uuid.UUID, key string) (string, error)
	GetCursor(ctx context.Context, integrationID uuid.UUID, jobType models.JobType, key string) (string, error)
	PersistOrders(ctx context.Context, integ *models.Integration, orders []models.Order, cursorFn repository.CursorUpdate) ([]string, error)
}

// CommerceSource is the fetch surface of the commerce client.
type CommerceSource interface {
	FetchOrders(ctx context.Context, q commerce.OrdersQuery, shopCurrency string) (*commerce.FetchResult, error)
}

// CommerceHandler runs commerce_fresh and commerce_window_fill.
type CommerceHandler struct {
	store      CommerceStore
	newClient  func(shopDomain, token string) CommerceSource
	windowDays int
	now        func() time.Time
}

func NewCommerceHandler(store CommerceStore, apiVersion string, windowDays int, httpClient *http.Client) *CommerceHandler {
	return &CommerceHandler{
		store: store,
		newClient: func(shopDomain, token string) CommerceSource {
			return commerce.NewClient(shopDomain, token, apiVersion, httpClient)
		},
		windowDays: windowDays,
		now:        time.Now,
	}
}

func (h *CommerceHandler) Handle(ctx context.Context, run *models.SyncRun) (models.RunStats, error) {
	integ, err := h.store.GetIntegration(ctx, run.IntegrationID)
	if err != nil {
		return models.RunStats{}, fmt.Errorf("load integration: %w", err)
	}
	token, err := h.store.GetIntegrationSecret(ctx, integ.ID, repository.SecretCommerceOfflineToken)
	if err != nil {
		return models.RunStats{}, fmt.Errorf("load token: %w", err)
	}
	client := h.newClient(integ.ExternalRef, token)

	switch run.JobType {
	case models.JobCommerceFresh:
		return h.fresh(ctx, integ, client)
	case models.JobCommerceWindowFill:
		return h.windowFill(ctx, integ, client)
	}
	return models.RunStats{}, fmt.Errorf("commerce handler cannot run %q", run.JobType)
}

// windowFill re-fetches the trailing window by creation date and initialises
// the fresh cursor when absent. Re-running it converges: the warehouse write
// is idempotent and the cursor init is insert-if-missing.
func (h *CommerceHandler) windowFill(ctx context.Context, integ *models.Integration, client CommerceSource) (models.RunStats, error) {
	now := h.now().UTC()
	windowStart := now.AddDate(0, 0, -h.windowDays).Format(time.RFC3339)
	windowEnd := now.Format(time.RFC3339)

	res, err := client.FetchOrders(ctx, commerce.OrdersQuery{
		Filter:  fmt.Sprintf("created_at:>='%s'", windowStart),
		SortKey: commerce.SortCreatedAt,
	}, integ.Currency)
	if err != nil {
		return models.RunStats{}, err
	}

	maxUpdated := maxUpdatedAt(res.Orders)
	prev, err := h.store.GetCursor(ctx, integ.ID, models.JobCommerceFresh, repository.CursorCommerceUpdatedAt)
	if err != nil {
		return models.RunStats{}, fmt.Errorf("load cursor: %w", err)
	}

	var cursorFn repository.CursorUpdate
	initialized := prev == "" && maxUpdated != ""
	if initialized {
		cursorFn = func(ctx context.Context, tx pgx.Tx) error {
			_, err := repository.InitCursorIfAbsentTx(ctx, tx, integ.ID,
				models.JobCommerceFresh, repository.CursorCommerceUpdatedAt, maxUpdated)
			return err
		}
	}

	dates, err := h.store.PersistOrders(ctx, integ, res.Orders, cursorFn)
	if err != nil {
		return models.RunStats{}, &runError{code: models.ErrCodeDBWrite, err: fmt.Errorf("persist orders: %w", err)}
	}

	return models.RunStats{
		Fetched:           len(res.Orders),
		Persisted:         len(res.Orders),
		DatesAffected:     dates,
		APICalls:          res.APICalls,
		WindowStart:       windowStart,
		WindowEnd:         windowEnd,
		CursorInitialized: initialized,
	}, nil
}

// fresh syncs incrementally by update time from the stored watermark, falling
// back to the trailing window when no cursor exists yet. The cursor advances
// only when the batch carried a strictly newer updated_at, inside the same
// transaction as the data it describes.
func (h *CommerceHandler) fresh(ctx context.Context, integ *models.Integration, client CommerceSource) (models.RunStats, error) {
	prev, err := h.store.GetCursor(ctx, integ.ID, models.JobCommerceFresh, repository.CursorCommerceUpdatedAt)
	if err != nil {
		return models.RunStats{}, fmt.Errorf("load cursor: %w", err)
	}

	since := prev
	if since == "" {
		since = h.now().UTC().AddDate(0, 0, -h.windowDays).Format(time.RFC3339)
	}

	res, err := client.FetchOrders(ctx, commerce.OrdersQuery{
		Filter:  fmt.Sprintf("updated_at:>='%s'", since),
		SortKey: commerce.SortUpdatedAt,
	}, integ.Currency)
	if err != nil {
		return models.RunStats{}, err
	}

	// RFC3339 UTC strings compare lexicographically in time order.
	next := prev
	if m := maxUpdatedAt(res.Orders); m > next {
		next = m
	}
	advanced := next > prev

	var cursorFn repository.CursorUpdate
	if advanced {
		cursorFn = func(ctx context.Context, tx pgx.Tx) error {
			return repository.AdvanceCursorTx(ctx, tx, integ.ID,
				models.JobCommerceFresh, repository.CursorCommerceUpdatedAt, next)
		}
	}

	dates, err := h.store.PersistOrders(ctx, integ, res.Orders, cursorFn)
	if err != nil {
		return models.RunStats{}, &runError{code: models.ErrCodeDBWrite, err: fmt.Errorf("persist orders: %w", err)}
	}

	return models.RunStats{
		Fetched:        len(res.Orders),
		Persisted:      len(res.Orders),
		DatesAffected:  dates,
		APICalls:       res.APICalls,
		WindowStart:    since,
		CursorPrevious: prev,
		CursorNext:     next,
		CursorAdvanced: advanced,
	}, nil
}

func maxUpdatedAt(orders []models.Order) string {
	max := ""
	for _, o := range orders {
		if o.UpdatedAt > max {
			max = o.UpdatedAt
		}
	}
	return max
}

package repository

import (
	"context"
	"fmt"
	"sort"

	"commercepulse/internal/models"

	"github.com/jackc/pgx/v5"
)

// maxBatchRows keeps each pgx.Batch comfortably inside statement parameter
// limits. Larger inputs are split.
const maxBatchRows = 1000

// CursorUpdate runs inside the warehouse transaction, after all table writes.
// Handlers use it to advance or initialise watermarks atomically with the
// data they describe.
type CursorUpdate func(ctx context.Context, tx pgx.Tx) error

// PersistOrders lands a batch of commerce orders in one transaction:
//
//  1. upsert raw payloads (last write wins per external id)
//  2. replace fact rows for the touched order names
//  3. rebuild daily commerce metrics for every touched order date
//  4. rebuild the account's daily summary for those dates
//  5. optional cursor update
//
// Re-running the same batch converges to the same state, which is what makes
// duplicate claims and overlapping window fills safe.
func (r *Repository) PersistOrders(ctx context.Context, integ *models.Integration, orders []models.Order, cursorFn CursorUpdate) ([]string, error) {
	dates := distinctOrderDates(orders)

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if len(orders) > 0 {
		if err := upsertRawOrders(ctx, tx, integ, orders); err != nil {
			return nil, fmt.Errorf("raw orders: %w", err)
		}
		if err := replaceOrderFacts(ctx, tx, integ, orders); err != nil {
			return nil, fmt.Errorf("fact orders: %w", err)
		}
		if err := rebuildCommerceDaily(ctx, tx, integ, dates); err != nil {
			return nil, fmt.Errorf("daily commerce metrics: %w", err)
		}
		if err := rebuildDailySummary(ctx, tx, integ, dates); err != nil {
			return nil, fmt.Errorf("daily summary: %w", err)
		}
	}

	if cursorFn != nil {
		if err := cursorFn(ctx, tx); err != nil {
			return nil, fmt.Errorf("cursor update: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return dates, nil
}

// PersistAdInsights lands ad-level raw rows plus their per-day facts in one
// transaction, then rebuilds daily ads metrics and the daily summary for the
// touched dates. Same atomicity contract as PersistOrders.
func (r *Repository) PersistAdInsights(ctx context.Context, integ *models.Integration, insights []models.AdInsight, facts []models.AdDailyFact, cursorFn CursorUpdate) ([]string, error) {
	dates := make([]string, 0, len(facts))
	for _, f := range facts {
		dates = append(dates, f.Date)
	}
	sort.Strings(dates)

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if len(facts) > 0 {
		if err := upsertRawAdInsights(ctx, tx, integ, insights); err != nil {
			return nil, fmt.Errorf("raw ad insights: %w", err)
		}
		if err := replaceAdFacts(ctx, tx, integ, facts); err != nil {
			return nil, fmt.Errorf("fact ads daily: %w", err)
		}
		if err := rebuildAdsDaily(ctx, tx, integ, dates); err != nil {
			return nil, fmt.Errorf("daily ads metrics: %w", err)
		}
		if err := rebuildDailySummary(ctx, tx, integ, dates); err != nil {
			return nil, fmt.Errorf("daily summary: %w", err)
		}
	}

	if cursorFn != nil {
		if err := cursorFn(ctx, tx); err != nil {
			return nil, fmt.Errorf("cursor update: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return dates, nil
}

func upsertRawOrders(ctx context.Context, tx pgx.Tx, integ *models.Integration, orders []models.Order) error {
	for start := 0; start < len(orders); start += maxBatchRows {
		end := start + maxBatchRows
		if end > len(orders) {
			end = len(orders)
		}

		batch := &pgx.Batch{}
		for _, o := range orders[start:end] {
			batch.Queue(`
				INSERT INTO raw_orders (integration_id, external_id, payload, source_created_at, source_updated_at, landed_at)
				VALUES ($1, $2, $3, $4, $5, NOW())
				ON CONFLICT (integration_id, external_id) DO UPDATE SET
					payload = EXCLUDED.payload,
					source_created_at = EXCLUDED.source_created_at,
					source_updated_at = EXCLUDED.source_updated_at,
					landed_at = NOW()`,
				integ.ID, o.ExternalID, o.Raw, o.CreatedAt, o.UpdatedAt,
			)
		}
		if err := flushBatch(ctx, tx, batch, end-start); err != nil {
			return err
		}
	}
	return nil
}

func replaceOrderFacts(ctx context.Context, tx pgx.Tx, integ *models.Integration, orders []models.Order) error {
	names := make([]string, 0, len(orders))
	for _, o := range orders {
		names = append(names, o.Name)
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM fact_orders
		WHERE integration_id = $1 AND order_name = ANY($2)`,
		integ.ID, names,
	); err != nil {
		return err
	}

	for start := 0; start < len(orders); start += maxBatchRows {
		end := start + maxBatchRows
		if end > len(orders) {
			end = len(orders)
		}

		batch := &pgx.Batch{}
		for _, o := range orders[start:end] {
			batch.Queue(`
				INSERT INTO fact_orders (integration_id, account_id, shop_ref, order_name,
					gross, net, refund_total, currency, order_date, status)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
				integ.ID, integ.AccountID, integ.ExternalRef, o.Name,
				o.Gross, o.Net, o.RefundTotal, o.Currency, o.OrderDate, o.Status,
			)
		}
		if err := flushBatch(ctx, tx, batch, end-start); err != nil {
			return err
		}
	}
	return nil
}

func upsertRawAdInsights(ctx context.Context, tx pgx.Tx, integ *models.Integration, insights []models.AdInsight) error {
	for start := 0; start < len(insights); start += maxBatchRows {
		end := start + maxBatchRows
		if end > len(insights) {
			end = len(insights)
		}

		batch := &pgx.Batch{}
		for _, in := range insights[start:end] {
			batch.Queue(`
				INSERT INTO raw_ad_insights (integration_id, date, ad_id, payload, landed_at)
				VALUES ($1, $2, $3, $4, NOW())
				ON CONFLICT (integration_id, date, ad_id) DO UPDATE SET
					payload = EXCLUDED.payload,
					landed_at = NOW()`,
				integ.ID, in.Date, in.AdID, in.Raw,
			)
		}
		if err := flushBatch(ctx, tx, batch, end-start); err != nil {
			return err
		}
	}
	return nil
}

func replaceAdFacts(ctx context.Context, tx pgx.Tx, integ *models.Integration, facts []models.AdDailyFact) error {
	dates := make([]string, 0, len(facts))
	for _, f := range facts {
		dates = append(dates, f.Date)
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM fact_ads_daily
		WHERE integration_id = $1 AND date = ANY($2::date[])`,
		integ.ID, dates,
	); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, f := range facts {
		batch.Queue(`
			INSERT INTO fact_ads_daily (integration_id, account_id, ad_account_ref, date,
				spend, impressions, clicks, purchases, purchase_value, currency)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			integ.ID, integ.AccountID, integ.ExternalRef, f.Date,
			f.Spend, f.Impressions, f.Clicks, f.Purchases, f.PurchaseValue, f.Currency,
		)
	}
	return flushBatch(ctx, tx, batch, len(facts))
}

// rebuildCommerceDaily recomputes daily_commerce_metrics wholesale for each
// touched date, from the fact rows committed in this transaction.
func rebuildCommerceDaily(ctx context.Context, tx pgx.Tx, integ *models.Integration, dates []string) error {
	if len(dates) == 0 {
		return nil
	}
	if _, err := tx.Exec(ctx, `
		DELETE FROM daily_commerce_metrics
		WHERE integration_id = $1 AND date = ANY($2::date[])`,
		integ.ID, dates,
	); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO daily_commerce_metrics (integration_id, account_id, shop_ref, date,
			orders, revenue_gross, revenue_net, refund_total)
		SELECT integration_id, account_id, shop_ref, order_date,
		       COUNT(*), SUM(gross), SUM(net), SUM(refund_total)
		FROM fact_orders
		WHERE integration_id = $1 AND order_date = ANY($2::date[])
		GROUP BY integration_id, account_id, shop_ref, order_date`,
		integ.ID, dates,
	)
	return err
}

// rebuildAdsDaily recomputes daily_ads_metrics wholesale for each touched date.
func rebuildAdsDaily(ctx context.Context, tx pgx.Tx, integ *models.Integration, dates []string) error {
	if len(dates) == 0 {
		return nil
	}
	if _, err := tx.Exec(ctx, `
		DELETE FROM daily_ads_metrics
		WHERE integration_id = $1 AND date = ANY($2::date[])`,
		integ.ID, dates,
	); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO daily_ads_metrics (integration_id, account_id, ad_account_ref, date,
			spend, impressions, clicks, purchases, purchase_value)
		SELECT integration_id, account_id, ad_account_ref, date,
		       SUM(spend), SUM(impressions), SUM(clicks), SUM(purchases), SUM(purchase_value)
		FROM fact_ads_daily
		WHERE integration_id = $1 AND date = ANY($2::date[])
		GROUP BY integration_id, account_id, ad_account_ref, date`,
		integ.ID, dates,
	)
	return err
}

// rebuildDailySummary recomputes the account-level blended view for the
// touched dates, joining both daily metric tables. The summary is a pure
// function of the committed source metrics, so concurrent runs for different
// integrations under one account converge: last committer wins with a value
// consistent with what it saw.
//
// MER is NULL when there is no spend; AOV is 0 when there are no orders.
func rebuildDailySummary(ctx context.Context, tx pgx.Tx, integ *models.Integration, dates []string) error {
	if len(dates) == 0 {
		return nil
	}
	if _, err := tx.Exec(ctx, `
		DELETE FROM daily_summary
		WHERE account_id = $1 AND date = ANY($2::date[])`,
		integ.AccountID, dates,
	); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO daily_summary (account_id, date, revenue_net, orders, ads_spend, mer, aov)
		SELECT $1, d.date,
		       COALESCE(c.revenue_net, 0),
		       COALESCE(c.orders, 0),
		       COALESCE(a.spend, 0),
		       CASE WHEN COALESCE(a.spend, 0) > 0
		            THEN COALESCE(c.revenue_net, 0) / a.spend END,
		       CASE WHEN COALESCE(c.orders, 0) > 0
		            THEN COALESCE(c.revenue_net, 0) / c.orders ELSE 0 END
		FROM unnest($2::date[]) AS d(date)
		LEFT JOIN (
			SELECT date, SUM(revenue_net) AS revenue_net, SUM(orders) AS orders
			FROM daily_commerce_metrics WHERE account_id = $1 GROUP BY date
		) c ON c.date = d.date
		LEFT JOIN (
			SELECT date, SUM(spend) AS spend
			FROM daily_ads_metrics WHERE account_id = $1 GROUP BY date
		) a ON a.date = d.date`,
		integ.AccountID, dates,
	)
	return err
}

func flushBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch, n int) error {
	if n == 0 {
		return nil
	}
	br := tx.SendBatch(ctx, batch)
	for i := 0; i < n; i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return err
		}
	}
	return br.Close()
}

func distinctOrderDates(orders []models.Order) []string {
	seen := make(map[string]struct{}, len(orders))
	var dates []string
	for _, o := range orders {
		if _, ok := seen[o.OrderDate]; !ok {
			seen[o.OrderDate] = struct{}{}
			dates = append(dates, o.OrderDate)
		}
	}
	sort.Strings(dates)
	return dates
}

package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobType identifies what a sync run does. The set is closed; rows written by
// older deployments may carry values outside it and are terminated with
// error_code=unknown_job_type by the dispatcher.
type JobType string

const (
	JobCommerceFresh      JobType = "commerce_fresh"
	JobCommerceWindowFill JobType = "commerce_window_fill"
	JobAdsFresh           JobType = "ads_fresh"
	JobAdsWindowFill      JobType = "ads_window_fill"
)

// Known reports whether jt is one of the job types this build dispatches.
func (jt JobType) Known() bool {
	switch jt {
	case JobCommerceFresh, JobCommerceWindowFill, JobAdsFresh, JobAdsWindowFill:
		return true
	}
	return false
}

// Run statuses. Transitions are queued -> running -> {success,error} only.
const (
	RunQueued  = "queued"
	RunRunning = "running"
	RunSuccess = "success"
	RunError   = "error"
)

// Integration types and statuses.
const (
	IntegrationCommerce = "commerce"
	IntegrationAds      = "ads"

	IntegrationConnected    = "connected"
	IntegrationError        = "error"
	IntegrationDisconnected = "disconnected"
)

// Integration represents the 'integrations' table.
type Integration struct {
	ID          uuid.UUID `json:"id"`
	AccountID   uuid.UUID `json:"account_id"`
	Type        string    `json:"type"`         // commerce | ads
	Status      string    `json:"status"`       // connected | error | disconnected
	ExternalRef string    `json:"external_ref"` // shop domain or ad-account id
	Currency    string    `json:"currency"`     // account currency, denormalised onto fact rows
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SyncRun represents the 'sync_runs' table.
type SyncRun struct {
	ID               uuid.UUID       `json:"id"`
	IntegrationID    uuid.UUID       `json:"integration_id"`
	JobType          JobType         `json:"job_type"`
	Trigger          string          `json:"trigger"` // auto | user | system
	Status           string          `json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
	StartedAt        *time.Time      `json:"started_at,omitempty"`
	FinishedAt       *time.Time      `json:"finished_at,omitempty"`
	RateLimited      bool            `json:"rate_limited"`
	RateLimitResetAt *time.Time      `json:"rate_limit_reset_at,omitempty"`
	RetryCount       int             `json:"retry_count"`
	ErrorCode        string          `json:"error_code,omitempty"`
	ErrorMessage     string          `json:"error_message,omitempty"`
	Stats            json.RawMessage `json:"stats,omitempty"` // JSONB
}

// RunStats is the structured result a handler returns on success. Stored as
// JSONB on the run; fields not applicable to a job type stay zero/omitted.
type RunStats struct {
	Fetched           int      `json:"fetched"`
	Persisted         int      `json:"persisted"`
	DatesAffected     []string `json:"dates_affected,omitempty"`
	APICalls          int      `json:"api_calls"`
	Retries           int      `json:"retries,omitempty"`
	WindowStart       string   `json:"window_start,omitempty"`
	WindowEnd         string   `json:"window_end,omitempty"`
	CursorInitialized bool     `json:"cursor_initialized,omitempty"`
	CursorPrevious    string   `json:"cursor_previous,omitempty"`
	CursorNext        string   `json:"cursor_next,omitempty"`
	CursorAdvanced    bool     `json:"cursor_advanced,omitempty"`
}

// Order is a normalised commerce order: one fact_orders row. The unmodified
// source payload rides along for the raw landing table.
type Order struct {
	ExternalID  string  `json:"external_id"`
	Name        string  `json:"name"`
	Gross       float64 `json:"gross"`
	Net         float64 `json:"net"`
	RefundTotal float64 `json:"refund_total"`
	Currency    string  `json:"currency"`
	OrderDate   string  `json:"order_date"` // YYYY-MM-DD (UTC)
	Status      *string `json:"status,omitempty"`
	CreatedAt   string  `json:"created_at"` // source timestamps, RFC3339
	UpdatedAt   string  `json:"updated_at"`

	Raw json.RawMessage `json:"-"`
}

// AdInsight is one raw ad-level insights row for a single day.
type AdInsight struct {
	AdID          string  `json:"ad_id"`
	Date          string  `json:"date"` // YYYY-MM-DD
	Spend         float64 `json:"spend"`
	Impressions   int64   `json:"impressions"`
	Clicks        int64   `json:"clicks"`
	Purchases     int64   `json:"purchases"`
	PurchaseValue float64 `json:"purchase_value"`
	Currency      string  `json:"currency"`

	Raw json.RawMessage `json:"-"`
}

// AdDailyFact is the per-(ad-account, date) fact row: insights summed across
// ads for that day.
type AdDailyFact struct {
	Date          string  `json:"date"`
	Spend         float64 `json:"spend"`
	Impressions   int64   `json:"impressions"`
	Clicks        int64   `json:"clicks"`
	Purchases     int64   `json:"purchases"`
	PurchaseValue float64 `json:"purchase_value"`
	Currency      string  `json:"currency"`
}

// IntegrationHealth is a per-integration status line for the /status endpoint.
type IntegrationHealth struct {
	IntegrationID uuid.UUID  `json:"integration_id"`
	Type          string     `json:"type"`
	Status        string     `json:"status"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	LastErrorCode string     `json:"last_error_code,omitempty"`
}

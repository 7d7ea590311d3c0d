package models

// Error codes stored on sync_runs.error_code. Closed set; worker_error is the
// bucket for anything unclassified.
const (
	ErrCodeAuth         = "auth_error"
	ErrCodeRateLimited  = "rate_limited"
	ErrCodeUnavailable  = "source_unavailable"
	ErrCodeBulkNotReady = "bulk_not_ready"
	ErrCodeSchema       = "schema_mismatch"
	ErrCodeDBWrite      = "db_write_error"
	ErrCodeUnknownJob   = "unknown_job_type"
	ErrCodeWorker       = "worker_error"
	ErrCodeAbandoned    = "abandoned"
)

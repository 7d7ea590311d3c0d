package commerce

import (
	"math"
	"time"
)

// ThrottleStatus is the cost telemetry the GraphQL API attaches to every
// response under extensions.cost.
type ThrottleStatus struct {
	MaximumAvailable   float64 `json:"maximumAvailable"`
	CurrentlyAvailable float64 `json:"currentlyAvailable"`
	RestoreRate        float64 `json:"restoreRate"` // points per second
}

// CostTelemetry pairs the throttle status with the cost of the query that
// produced it.
type CostTelemetry struct {
	RequestedQueryCost float64        `json:"requestedQueryCost"`
	ThrottleStatus     ThrottleStatus `json:"throttleStatus"`
}

// throttleSafetyMargin pads the computed restore wait so the next call does
// not land a few points short.
const throttleSafetyMargin = 200 * time.Millisecond

// ThrottleDelay computes how long to wait before the next call given the
// telemetry of the last response. Purely reactive: no pre-budgeting.
//
// Rules: keep a buffer of 20% of the bucket. Above the buffer, or when the
// last query's cost still fits in what is available, no delay. Otherwise wait
// for the deficit to restore, plus a small safety margin. Missing or
// nonsensical telemetry means no delay; the server will push back if we are
// wrong.
func ThrottleDelay(t *CostTelemetry) time.Duration {
	if t == nil {
		return 0
	}
	ts := t.ThrottleStatus
	if ts.MaximumAvailable <= 0 || ts.RestoreRate <= 0 {
		return 0
	}

	buffer := 0.2 * ts.MaximumAvailable
	if ts.CurrentlyAvailable > buffer {
		return 0
	}
	if t.RequestedQueryCost <= ts.CurrentlyAvailable {
		return 0
	}

	deficit := t.RequestedQueryCost - ts.CurrentlyAvailable
	seconds := math.Ceil(deficit / ts.RestoreRate)
	return time.Duration(seconds)*time.Second + throttleSafetyMargin
}

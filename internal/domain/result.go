package domain

import "time"

// RawResult is one per-request measurement reported by a load-generating
// worker. Rows are immutable once written; duplicates from redelivered
// batches are stored as separate rows.
type RawResult struct {
	ID                int64
	JobID             int64
	WorkerID          int64
	OccurredAt        time.Time
	Method            string
	Endpoint          string
	StatusCode        int
	LatencyMS         *float64
	TTFBMS            *float64
	ResponseSizeBytes *int64
	ErrorMsg          *string
	ScenarioStep      *int
	Success           bool
	IngestedAt        time.Time
}

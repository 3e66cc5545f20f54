package domain

import "time"

// Session statuses.
const (
	SessionStatusDone   = "DONE"
	SessionStatusFailed = "FAILED"
)

// Session is one completed test run, created atomically together with its
// job depth rows when collection finishes.
type Session struct {
	ID          int64
	StartedAt   time.Time
	Description *string
	TotalDepth  int
	Status      string
}

// SessionJobDepth records how many repetition batches a job had delivered
// by the time its session was finalized.
type SessionJobDepth struct {
	SessionID int64
	JobID     int64
	Depth     int
}

package domain

import "time"

// SessionSummary holds session-wide request statistics. Derived data,
// fully recomputable from raw results; safe to delete and regenerate.
type SessionSummary struct {
	SessionID       int64
	BucketSeconds   int
	TotalRequests   int64
	SuccessRequests int64
	SuccessRate     float64
	Status2xx       int64
	Status4xx       int64
	Status5xx       int64
	LatencyAvg      *float64
	LatencyP50      *float64
	LatencyP90      *float64
	LatencyP95      *float64
	LatencyP99      *float64
	TTFBAvg         *float64
	TTFBP95         *float64
	UpdatedAt       time.Time
}

// SessionEndpointSummary holds per-(endpoint, method) statistics for one session.
type SessionEndpointSummary struct {
	SessionID   int64
	Endpoint    string
	Method      string
	Count       int64
	SuccessRate float64
	Status5xx   int64
	LatencyAvg  *float64
	LatencyP95  *float64
	LatencyP99  *float64
}

// SessionTimeseriesSummary holds statistics for one fixed-width time bucket
// of a session, keyed by (session, bucket width, bucket start).
type SessionTimeseriesSummary struct {
	SessionID     int64
	BucketSeconds int
	BucketStart   time.Time
	Count         int64
	SuccessRate   float64
	Status5xx     int64
	LatencyAvg    *float64
	LatencyP95    *float64
}

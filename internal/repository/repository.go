package repository

import (
	"context"

	"github.com/Merkirus/cloud-raporting/internal/domain"
)

// ResultRepository persists raw measurement records.
type ResultRepository interface {
	InsertRawResult(ctx context.Context, result *domain.RawResult) error
}

// SessionRepository manages analysis sessions and their job depth rows.
type SessionRepository interface {
	CreateSessionWithJobs(ctx context.Context, session *domain.Session, depths map[int64]int) error
	GetSessionByID(ctx context.Context, sessionID int64) (*domain.Session, error)
	ListSessionIDs(ctx context.Context) ([]int64, error)
	ListSessionJobDepths(ctx context.Context, sessionID int64) ([]domain.SessionJobDepth, error)
}

// AggregateRepository loads raw data for a session and replaces its derived summaries.
type AggregateRepository interface {
	ListSessionRawResults(ctx context.Context, sessionID int64) ([]domain.RawResult, error)
	ReplaceSessionAggregates(ctx context.Context, summary domain.SessionSummary, endpoints []domain.SessionEndpointSummary, timeseries []domain.SessionTimeseriesSummary) error
}

// ReportRepository exposes read-only aggregate views for report rendering.
type ReportRepository interface {
	GetSessionSummary(ctx context.Context, sessionID int64) (*domain.SessionSummary, error)
	ListEndpointSummaries(ctx context.Context, sessionID int64) ([]domain.SessionEndpointSummary, error)
	ListTimeseriesSummaries(ctx context.Context, sessionID int64, bucketSeconds int) ([]domain.SessionTimeseriesSummary, error)
}

package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Merkirus/cloud-raporting/internal/repository"
)

// Engine recomputes the derived summaries of a session from its raw results.
// Aggregation is a pure function of the raw rows and the bucket width, so a
// recomputation for unchanged inputs stores identical values.
type Engine struct {
	sessions repository.SessionRepository
	repo     repository.AggregateRepository
	logger   *slog.Logger
	now      func() time.Time
}

// New constructs an Engine.
func New(sessions repository.SessionRepository, repo repository.AggregateRepository, logger *slog.Logger) *Engine {
	if logger != nil {
		logger = logger.With("component", "aggregate")
	}
	return &Engine{sessions: sessions, repo: repo, logger: logger, now: time.Now}
}

// RecomputeSession replaces the session summary, the per-endpoint rollups,
// and the timeseries rows for the given bucket width. A session without raw
// data is skipped entirely: nothing is written and existing aggregates stay.
func (e *Engine) RecomputeSession(ctx context.Context, sessionID int64, bucketSeconds int) error {
	if bucketSeconds < 1 {
		return fmt.Errorf("bucket width must be positive, got %d", bucketSeconds)
	}
	rows, err := e.repo.ListSessionRawResults(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load raw results for session %d: %w", sessionID, err)
	}
	if len(rows) == 0 {
		if e.logger != nil {
			e.logger.Info("no raw data for session, skipping aggregation", "session_id", sessionID)
		}
		return nil
	}

	summary := buildSummary(sessionID, bucketSeconds, rows, e.now().UTC())
	endpoints := buildEndpointSummaries(sessionID, rows)
	timeseries := buildTimeseries(sessionID, bucketSeconds, rows)

	if err := e.repo.ReplaceSessionAggregates(ctx, summary, endpoints, timeseries); err != nil {
		return fmt.Errorf("replace aggregates for session %d: %w", sessionID, err)
	}
	if e.logger != nil {
		e.logger.Info("session aggregates recomputed",
			"session_id", sessionID,
			"bucket_seconds", bucketSeconds,
			"raw_rows", len(rows),
			"endpoints", len(endpoints),
			"buckets", len(timeseries),
		)
	}
	return nil
}

// RecomputeAll recomputes every stored session in ascending id order. One
// failing session does not stop the rest; the number of failures is returned
// alongside the number of sessions attempted.
func (e *Engine) RecomputeAll(ctx context.Context, bucketSeconds int) (attempted, failed int, err error) {
	ids, err := e.sessions.ListSessionIDs(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("list sessions: %w", err)
	}
	for _, id := range ids {
		if err := e.RecomputeSession(ctx, id, bucketSeconds); err != nil {
			failed++
			if e.logger != nil {
				e.logger.Error("session aggregation failed", "session_id", id, "error", err)
			}
		}
	}
	return len(ids), failed, nil
}

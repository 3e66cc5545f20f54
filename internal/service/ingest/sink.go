package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Merkirus/cloud-raporting/internal/domain"
	"github.com/Merkirus/cloud-raporting/internal/repository"
)

// Sink appends validated measurement records to durable storage. It does not
// deduplicate: a batch delivered twice yields twice the rows, which is the
// accepted cost of at-least-once delivery.
type Sink struct {
	repo   repository.ResultRepository
	logger *slog.Logger
	now    func() time.Time
}

// NewSink constructs a Sink.
func NewSink(repo repository.ResultRepository, logger *slog.Logger) *Sink {
	if logger != nil {
		logger = logger.With("component", "ingest")
	}
	return &Sink{repo: repo, logger: logger, now: time.Now}
}

// Store persists every record in order and returns how many were written.
// On failure the count covers the rows already durable; the remainder of the
// batch was not written.
func (s *Sink) Store(ctx context.Context, results []domain.RawResult) (int, error) {
	for i := range results {
		record := results[i]
		record.IngestedAt = s.now().UTC()
		if err := s.repo.InsertRawResult(ctx, &record); err != nil {
			return i, fmt.Errorf("insert raw result for job %d: %w", record.JobID, err)
		}
	}
	if s.logger != nil && len(results) > 0 {
		s.logger.Debug("raw results stored", "count", len(results))
	}
	return len(results), nil
}

package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Merkirus/cloud-raporting/internal/domain"
	"github.com/Merkirus/cloud-raporting/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.ResultRepository    = (*Repository)(nil)
	_ repository.SessionRepository   = (*Repository)(nil)
	_ repository.AggregateRepository = (*Repository)(nil)
	_ repository.ReportRepository    = (*Repository)(nil)
)

// InsertRawResult appends one measurement row.
func (r *Repository) InsertRawResult(ctx context.Context, result *domain.RawResult) error {
	const query = `INSERT INTO request_results (
			job_id, worker_id, occurred_at, method, endpoint, status_code,
			latency_ms, ttfb_ms, response_size_bytes, error_msg, scenario_step,
			is_success, ingested_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`
	row := r.pool.QueryRow(ctx, query,
		result.JobID,
		result.WorkerID,
		result.OccurredAt,
		result.Method,
		result.Endpoint,
		result.StatusCode,
		result.LatencyMS,
		result.TTFBMS,
		result.ResponseSizeBytes,
		result.ErrorMsg,
		result.ScenarioStep,
		result.Success,
		result.IngestedAt,
	)
	return row.Scan(&result.ID)
}

package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/Merkirus/cloud-raporting/internal/domain"
	"github.com/Merkirus/cloud-raporting/internal/repository"
)

const rawResultColumns = `rr.id, rr.job_id, rr.worker_id, rr.occurred_at, rr.method, rr.endpoint,
	rr.status_code, rr.latency_ms, rr.ttfb_ms, rr.response_size_bytes, rr.error_msg,
	rr.scenario_step, rr.is_success, rr.ingested_at`

// ListSessionRawResults loads every raw result whose job belongs to the session.
func (r *Repository) ListSessionRawResults(ctx context.Context, sessionID int64) ([]domain.RawResult, error) {
	query := `SELECT ` + rawResultColumns + `
		FROM request_results rr
		INNER JOIN analysis_session_jobs sj ON sj.job_id = rr.job_id
		WHERE sj.session_id = $1
		ORDER BY rr.occurred_at ASC, rr.id ASC`
	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]domain.RawResult, 0)
	for rows.Next() {
		var res domain.RawResult
		if err := rows.Scan(
			&res.ID,
			&res.JobID,
			&res.WorkerID,
			&res.OccurredAt,
			&res.Method,
			&res.Endpoint,
			&res.StatusCode,
			&res.LatencyMS,
			&res.TTFBMS,
			&res.ResponseSizeBytes,
			&res.ErrorMsg,
			&res.ScenarioStep,
			&res.Success,
			&res.IngestedAt,
		); err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

// ReplaceSessionAggregates clears prior aggregate rows for the session and
// bucket width, then writes the recomputed ones, all in one transaction.
// Re-running with identical inputs stores identical rows.
func (r *Repository) ReplaceSessionAggregates(ctx context.Context, summary domain.SessionSummary, endpoints []domain.SessionEndpointSummary, timeseries []domain.SessionTimeseriesSummary) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	sessionID := summary.SessionID
	bucketSeconds := summary.BucketSeconds

	if _, err := tx.Exec(ctx,
		`DELETE FROM session_summary WHERE session_id = $1 AND bucket_seconds = $2`,
		sessionID, bucketSeconds); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM session_endpoint_summary WHERE session_id = $1`,
		sessionID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM session_timeseries_summary WHERE session_id = $1 AND bucket_seconds = $2`,
		sessionID, bucketSeconds); err != nil {
		return err
	}

	const summaryInsert = `INSERT INTO session_summary (
			session_id, bucket_seconds,
			total_requests, success_requests, success_rate,
			status_2xx, status_4xx, status_5xx,
			latency_avg, latency_p50, latency_p90, latency_p95, latency_p99,
			ttfb_avg, ttfb_p95, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (session_id) DO UPDATE SET
			bucket_seconds = EXCLUDED.bucket_seconds,
			total_requests = EXCLUDED.total_requests,
			success_requests = EXCLUDED.success_requests,
			success_rate = EXCLUDED.success_rate,
			status_2xx = EXCLUDED.status_2xx,
			status_4xx = EXCLUDED.status_4xx,
			status_5xx = EXCLUDED.status_5xx,
			latency_avg = EXCLUDED.latency_avg,
			latency_p50 = EXCLUDED.latency_p50,
			latency_p90 = EXCLUDED.latency_p90,
			latency_p95 = EXCLUDED.latency_p95,
			latency_p99 = EXCLUDED.latency_p99,
			ttfb_avg = EXCLUDED.ttfb_avg,
			ttfb_p95 = EXCLUDED.ttfb_p95,
			updated_at = EXCLUDED.updated_at`
	if _, err := tx.Exec(ctx, summaryInsert,
		summary.SessionID,
		summary.BucketSeconds,
		summary.TotalRequests,
		summary.SuccessRequests,
		summary.SuccessRate,
		summary.Status2xx,
		summary.Status4xx,
		summary.Status5xx,
		summary.LatencyAvg,
		summary.LatencyP50,
		summary.LatencyP90,
		summary.LatencyP95,
		summary.LatencyP99,
		summary.TTFBAvg,
		summary.TTFBP95,
		summary.UpdatedAt,
	); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	const endpointInsert = `INSERT INTO session_endpoint_summary (
			session_id, endpoint, method,
			count, success_rate, status_5xx,
			latency_avg, latency_p95, latency_p99
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (session_id, endpoint, method) DO UPDATE SET
			count = EXCLUDED.count,
			success_rate = EXCLUDED.success_rate,
			status_5xx = EXCLUDED.status_5xx,
			latency_avg = EXCLUDED.latency_avg,
			latency_p95 = EXCLUDED.latency_p95,
			latency_p99 = EXCLUDED.latency_p99`
	for _, ep := range endpoints {
		batch.Queue(endpointInsert,
			ep.SessionID, ep.Endpoint, ep.Method,
			ep.Count, ep.SuccessRate, ep.Status5xx,
			ep.LatencyAvg, ep.LatencyP95, ep.LatencyP99,
		)
	}

	const timeseriesInsert = `INSERT INTO session_timeseries_summary (
			session_id, bucket_seconds, bucket_start,
			count, success_rate, status_5xx,
			latency_avg, latency_p95
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (session_id, bucket_seconds, bucket_start) DO UPDATE SET
			count = EXCLUDED.count,
			success_rate = EXCLUDED.success_rate,
			status_5xx = EXCLUDED.status_5xx,
			latency_avg = EXCLUDED.latency_avg,
			latency_p95 = EXCLUDED.latency_p95`
	for _, ts := range timeseries {
		batch.Queue(timeseriesInsert,
			ts.SessionID, ts.BucketSeconds, ts.BucketStart,
			ts.Count, ts.SuccessRate, ts.Status5xx,
			ts.LatencyAvg, ts.LatencyP95,
		)
	}

	if batch.Len() > 0 {
		br := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return err
			}
		}
		if err := br.Close(); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// GetSessionSummary returns the stored summary row for a session.
func (r *Repository) GetSessionSummary(ctx context.Context, sessionID int64) (*domain.SessionSummary, error) {
	const query = `SELECT session_id, bucket_seconds,
			total_requests, success_requests, success_rate,
			status_2xx, status_4xx, status_5xx,
			latency_avg, latency_p50, latency_p90, latency_p95, latency_p99,
			ttfb_avg, ttfb_p95, updated_at
		FROM session_summary WHERE session_id = $1`
	row := r.pool.QueryRow(ctx, query, sessionID)
	var s domain.SessionSummary
	if err := row.Scan(
		&s.SessionID,
		&s.BucketSeconds,
		&s.TotalRequests,
		&s.SuccessRequests,
		&s.SuccessRate,
		&s.Status2xx,
		&s.Status4xx,
		&s.Status5xx,
		&s.LatencyAvg,
		&s.LatencyP50,
		&s.LatencyP90,
		&s.LatencyP95,
		&s.LatencyP99,
		&s.TTFBAvg,
		&s.TTFBP95,
		&s.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// ListEndpointSummaries returns endpoint rollups ordered by latency p95 descending.
func (r *Repository) ListEndpointSummaries(ctx context.Context, sessionID int64) ([]domain.SessionEndpointSummary, error) {
	const query = `SELECT session_id, endpoint, method,
			count, success_rate, status_5xx,
			latency_avg, latency_p95, latency_p99
		FROM session_endpoint_summary
		WHERE session_id = $1
		ORDER BY latency_p95 DESC NULLS LAST, endpoint ASC, method ASC`
	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := make([]domain.SessionEndpointSummary, 0)
	for rows.Next() {
		var s domain.SessionEndpointSummary
		if err := rows.Scan(
			&s.SessionID, &s.Endpoint, &s.Method,
			&s.Count, &s.SuccessRate, &s.Status5xx,
			&s.LatencyAvg, &s.LatencyP95, &s.LatencyP99,
		); err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// ListTimeseriesSummaries returns bucket rows for the width ordered by bucket start.
func (r *Repository) ListTimeseriesSummaries(ctx context.Context, sessionID int64, bucketSeconds int) ([]domain.SessionTimeseriesSummary, error) {
	const query = `SELECT session_id, bucket_seconds, bucket_start,
			count, success_rate, status_5xx,
			latency_avg, latency_p95
		FROM session_timeseries_summary
		WHERE session_id = $1 AND bucket_seconds = $2
		ORDER BY bucket_start ASC`
	rows, err := r.pool.Query(ctx, query, sessionID, bucketSeconds)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := make([]domain.SessionTimeseriesSummary, 0)
	for rows.Next() {
		var s domain.SessionTimeseriesSummary
		if err := rows.Scan(
			&s.SessionID, &s.BucketSeconds, &s.BucketStart,
			&s.Count, &s.SuccessRate, &s.Status5xx,
			&s.LatencyAvg, &s.LatencyP95,
		); err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Merkirus/cloud-raporting/internal/domain"
	"github.com/Merkirus/cloud-raporting/internal/repository"
)

// CreateSessionWithJobs inserts the session row and one depth row per job
// in a single transaction. On any failure no partial rows remain.
func (r *Repository) CreateSessionWithJobs(ctx context.Context, session *domain.Session, depths map[int64]int) error {
	if len(depths) == 0 {
		return repository.ErrInvalidArgument
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const sessionInsert = `INSERT INTO analysis_sessions (started_at, description, total_depth, status)
		VALUES ($1, $2, $3, $4)
		RETURNING session_id`
	if err := tx.QueryRow(ctx, sessionInsert,
		session.StartedAt,
		session.Description,
		session.TotalDepth,
		session.Status,
	).Scan(&session.ID); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23514", "22P02", "23505":
				return repository.ErrInvalidArgument
			}
		}
		return err
	}

	const jobInsert = `INSERT INTO analysis_session_jobs (session_id, job_id, depth)
		VALUES ($1, $2, $3)`
	batch := &pgx.Batch{}
	for jobID, depth := range depths {
		batch.Queue(jobInsert, session.ID, jobID, depth)
	}
	br := tx.SendBatch(ctx, batch)
	for range depths {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return err
		}
	}
	if err := br.Close(); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// GetSessionByID loads one session.
func (r *Repository) GetSessionByID(ctx context.Context, sessionID int64) (*domain.Session, error) {
	const query = `SELECT session_id, started_at, description, total_depth, status
		FROM analysis_sessions WHERE session_id = $1`
	row := r.pool.QueryRow(ctx, query, sessionID)
	var session domain.Session
	if err := row.Scan(&session.ID, &session.StartedAt, &session.Description, &session.TotalDepth, &session.Status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &session, nil
}

// ListSessionIDs returns every stored session id ascending.
func (r *Repository) ListSessionIDs(ctx context.Context) ([]int64, error) {
	const query = `SELECT session_id FROM analysis_sessions ORDER BY session_id ASC`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListSessionJobDepths returns the job depth rows for a session ordered by job id.
func (r *Repository) ListSessionJobDepths(ctx context.Context, sessionID int64) ([]domain.SessionJobDepth, error) {
	const query = `SELECT session_id, job_id, depth
		FROM analysis_session_jobs WHERE session_id = $1 ORDER BY job_id ASC`
	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	depths := make([]domain.SessionJobDepth, 0)
	for rows.Next() {
		var d domain.SessionJobDepth
		if err := rows.Scan(&d.SessionID, &d.JobID, &d.Depth); err != nil {
			return nil, err
		}
		depths = append(depths, d)
	}
	return depths, rows.Err()
}

package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Merkirus/cloud-raporting/internal/domain"
	"github.com/Merkirus/cloud-raporting/internal/repository"
)

// ErrEmptyMapping signals an attempt to materialize a session with no
// observed jobs. The caller must surface the failed attempt instead of
// creating an empty session record.
var ErrEmptyMapping = errors.New("sessions: empty job depth mapping")

// Materializer atomically turns a finished job depth mapping into a session record.
type Materializer struct {
	repo   repository.SessionRepository
	logger *slog.Logger
	now    func() time.Time
}

// New constructs a Materializer.
func New(repo repository.SessionRepository, logger *slog.Logger) *Materializer {
	if logger != nil {
		logger = logger.With("component", "sessions")
	}
	return &Materializer{repo: repo, logger: logger, now: time.Now}
}

// Create persists one session and its job depth rows in a single
// transaction and returns the session with its assigned id. An empty
// mapping yields ErrEmptyMapping and no session row.
func (m *Materializer) Create(ctx context.Context, description string, totalDepth int, depths map[int64]int, status string) (*domain.Session, error) {
	if len(depths) == 0 {
		return nil, ErrEmptyMapping
	}
	if totalDepth < 1 {
		return nil, fmt.Errorf("total depth must be positive, got %d", totalDepth)
	}
	if status == "" {
		status = domain.SessionStatusDone
	}

	session := &domain.Session{
		StartedAt:  m.now().UTC(),
		TotalDepth: totalDepth,
		Status:     status,
	}
	if description != "" {
		session.Description = &description
	}

	if err := m.repo.CreateSessionWithJobs(ctx, session, depths); err != nil {
		return nil, fmt.Errorf("materialize session: %w", err)
	}
	if m.logger != nil {
		m.logger.Info("session materialized", "session_id", session.ID, "jobs", len(depths), "total_depth", totalDepth, "status", status)
	}
	return session, nil
}

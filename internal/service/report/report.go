package report

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Merkirus/cloud-raporting/internal/domain"
	"github.com/Merkirus/cloud-raporting/internal/repository"
)

//go:embed report.html.tmpl
var templateFS embed.FS

// Exporter renders persisted session aggregates into an HTML report. It only
// reads from storage; missing aggregates render a placeholder section.
type Exporter struct {
	sessions repository.SessionRepository
	repo     repository.ReportRepository
	outDir   string
	tmpl     *template.Template
	logger   *slog.Logger
	now      func() time.Time
}

// New constructs an Exporter writing reports under outDir.
func New(sessions repository.SessionRepository, repo repository.ReportRepository, outDir string, logger *slog.Logger) (*Exporter, error) {
	if logger != nil {
		logger = logger.With("component", "report")
	}
	tmpl, err := template.New("report.html.tmpl").Funcs(template.FuncMap{
		"ms":  formatMS,
		"pct": formatPct,
	}).ParseFS(templateFS, "report.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse report template: %w", err)
	}
	return &Exporter{
		sessions: sessions,
		repo:     repo,
		outDir:   outDir,
		tmpl:     tmpl,
		logger:   logger,
		now:      time.Now,
	}, nil
}

type reportData struct {
	Session     *domain.Session
	Description string
	Summary     *domain.SessionSummary
	Endpoints   []domain.SessionEndpointSummary
	Timeseries  []domain.SessionTimeseriesSummary
	GeneratedAt time.Time
}

// Generate renders the report for one session, writes it to the output
// directory, and returns the filename together with the rendered bytes.
func (e *Exporter) Generate(ctx context.Context, sessionID int64, bucketSeconds int) (string, []byte, error) {
	session, err := e.sessions.GetSessionByID(ctx, sessionID)
	if err != nil {
		return "", nil, fmt.Errorf("load session %d: %w", sessionID, err)
	}

	summary, err := e.repo.GetSessionSummary(ctx, sessionID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return "", nil, fmt.Errorf("load summary for session %d: %w", sessionID, err)
	}
	endpoints, err := e.repo.ListEndpointSummaries(ctx, sessionID)
	if err != nil {
		return "", nil, fmt.Errorf("load endpoint summaries for session %d: %w", sessionID, err)
	}
	timeseries, err := e.repo.ListTimeseriesSummaries(ctx, sessionID, bucketSeconds)
	if err != nil {
		return "", nil, fmt.Errorf("load timeseries for session %d: %w", sessionID, err)
	}

	data := reportData{
		Session:     session,
		Summary:     summary,
		Endpoints:   endpoints,
		Timeseries:  timeseries,
		GeneratedAt: e.now().UTC(),
	}
	if session.Description != nil {
		data.Description = *session.Description
	}

	var buf bytes.Buffer
	if err := e.tmpl.Execute(&buf, data); err != nil {
		return "", nil, fmt.Errorf("render report for session %d: %w", sessionID, err)
	}

	filename := fmt.Sprintf("report_session_%d.html", sessionID)
	if err := os.MkdirAll(e.outDir, 0o755); err != nil {
		return "", nil, fmt.Errorf("create reports dir: %w", err)
	}
	path := filepath.Join(e.outDir, filename)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", nil, fmt.Errorf("write report %s: %w", path, err)
	}
	if e.logger != nil {
		e.logger.Info("report written", "session_id", sessionID, "path", path, "size_bytes", buf.Len())
	}
	return filename, buf.Bytes(), nil
}

func formatMS(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *v)
}

func formatPct(rate float64) string {
	return fmt.Sprintf("%.1f%%", rate*100)
}

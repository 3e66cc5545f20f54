package report

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Merkirus/cloud-raporting/internal/domain"
	"github.com/Merkirus/cloud-raporting/internal/repository"
)

type stubSessionReader struct {
	session *domain.Session
}

func (s *stubSessionReader) CreateSessionWithJobs(context.Context, *domain.Session, map[int64]int) error {
	return errors.New("not implemented")
}

func (s *stubSessionReader) GetSessionByID(_ context.Context, sessionID int64) (*domain.Session, error) {
	if s.session == nil || s.session.ID != sessionID {
		return nil, repository.ErrNotFound
	}
	session := *s.session
	return &session, nil
}

func (s *stubSessionReader) ListSessionIDs(context.Context) ([]int64, error) {
	if s.session == nil {
		return nil, nil
	}
	return []int64{s.session.ID}, nil
}

func (s *stubSessionReader) ListSessionJobDepths(context.Context, int64) ([]domain.SessionJobDepth, error) {
	return nil, nil
}

type stubReportRepo struct {
	summary    *domain.SessionSummary
	endpoints  []domain.SessionEndpointSummary
	timeseries []domain.SessionTimeseriesSummary
}

func (r *stubReportRepo) GetSessionSummary(context.Context, int64) (*domain.SessionSummary, error) {
	if r.summary == nil {
		return nil, repository.ErrNotFound
	}
	return r.summary, nil
}

func (r *stubReportRepo) ListEndpointSummaries(context.Context, int64) ([]domain.SessionEndpointSummary, error) {
	return r.endpoints, nil
}

func (r *stubReportRepo) ListTimeseriesSummaries(context.Context, int64, int) ([]domain.SessionTimeseriesSummary, error) {
	return r.timeseries, nil
}

func floatPtr(v float64) *float64 { return &v }

func testSession() *domain.Session {
	description := "checkout load test"
	return &domain.Session{
		ID:          12,
		StartedAt:   time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC),
		Description: &description,
		TotalDepth:  3,
		Status:      domain.SessionStatusDone,
	}
}

func TestGenerateWritesReportWithAggregates(t *testing.T) {
	sessions := &stubSessionReader{session: testSession()}
	repo := &stubReportRepo{
		summary: &domain.SessionSummary{
			SessionID:       12,
			BucketSeconds:   10,
			TotalRequests:   200,
			SuccessRequests: 180,
			SuccessRate:     0.9,
			Status2xx:       180,
			Status4xx:       15,
			Status5xx:       5,
			LatencyAvg:      floatPtr(48.75),
			LatencyP50:      floatPtr(40),
			LatencyP90:      floatPtr(90),
			LatencyP95:      floatPtr(120),
			LatencyP99:      floatPtr(240.5),
		},
		endpoints: []domain.SessionEndpointSummary{
			{SessionID: 12, Endpoint: "/checkout", Method: "POST", Count: 120, SuccessRate: 0.95, LatencyAvg: floatPtr(55), LatencyP95: floatPtr(130), LatencyP99: floatPtr(250)},
			{SessionID: 12, Endpoint: "/cart", Method: "GET", Count: 80, SuccessRate: 0.825, Status5xx: 5, LatencyAvg: floatPtr(39)},
		},
		timeseries: []domain.SessionTimeseriesSummary{
			{SessionID: 12, BucketSeconds: 10, BucketStart: time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC), Count: 100, SuccessRate: 1, LatencyAvg: floatPtr(44)},
		},
	}

	outDir := t.TempDir()
	exporter, err := New(sessions, repo, outDir, nil)
	if err != nil {
		t.Fatalf("new exporter: %v", err)
	}
	exporter.now = func() time.Time {
		return time.Date(2026, time.March, 2, 11, 0, 0, 0, time.UTC)
	}

	filename, body, err := exporter.Generate(context.Background(), 12, 10)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if filename != "report_session_12.html" {
		t.Fatalf("unexpected filename %q", filename)
	}

	written, err := os.ReadFile(filepath.Join(outDir, filename))
	if err != nil {
		t.Fatalf("read written report: %v", err)
	}
	if string(written) != string(body) {
		t.Fatal("returned bytes differ from the written file")
	}

	html := string(body)
	for _, want := range []string{
		"Session #12",
		"checkout load test",
		"90.0% (180/200)",
		"48.75 / 40.00 / 90.00 / 120.00 / 240.50",
		"180 / 15 / 5",
		"/checkout",
		"/cart",
		"2026-03-02 10:00:00",
	} {
		if !strings.Contains(html, want) {
			t.Fatalf("report missing %q", want)
		}
	}
}

func TestGenerateMissingSummaryRendersPlaceholder(t *testing.T) {
	sessions := &stubSessionReader{session: testSession()}
	exporter, err := New(sessions, &stubReportRepo{}, t.TempDir(), nil)
	if err != nil {
		t.Fatalf("new exporter: %v", err)
	}

	_, body, err := exporter.Generate(context.Background(), 12, 10)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.Contains(string(body), "No session summary stored yet") {
		t.Fatal("expected the placeholder section for a missing summary")
	}
}

func TestGenerateUnknownSessionFails(t *testing.T) {
	exporter, err := New(&stubSessionReader{}, &stubReportRepo{}, t.TempDir(), nil)
	if err != nil {
		t.Fatalf("new exporter: %v", err)
	}
	if _, _, err := exporter.Generate(context.Background(), 99, 10); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGenerateNilMetricsRenderDashes(t *testing.T) {
	sessions := &stubSessionReader{session: testSession()}
	repo := &stubReportRepo{
		summary: &domain.SessionSummary{SessionID: 12, BucketSeconds: 10, TotalRequests: 4, SuccessRequests: 0},
	}
	exporter, err := New(sessions, repo, t.TempDir(), nil)
	if err != nil {
		t.Fatalf("new exporter: %v", err)
	}

	_, body, err := exporter.Generate(context.Background(), 12, 10)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.Contains(string(body), "- / - / - / - / -") {
		t.Fatal("expected dashes for absent latency statistics")
	}
}

package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Merkirus/cloud-raporting/internal/domain"
	"github.com/Merkirus/cloud-raporting/internal/service/ingest"
)

type deliveryRecord struct {
	mu       sync.Mutex
	acked    bool
	rejected bool
	requeued bool
}

func (r *deliveryRecord) state() (acked, rejected, requeued bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.acked, r.rejected, r.requeued
}

type stubSource struct {
	mu         sync.Mutex
	deliveries chan *Delivery
	failures   chan error
	drained    int
	drainCalls int
}

func newStubSource() *stubSource {
	return &stubSource{
		deliveries: make(chan *Delivery, 64),
		failures:   make(chan error, 4),
	}
}

func (s *stubSource) fail(err error) {
	s.failures <- err
}

func (s *stubSource) push(body string) *deliveryRecord {
	rec := &deliveryRecord{}
	s.deliveries <- &Delivery{
		Body: []byte(body),
		Ack: func() error {
			rec.mu.Lock()
			defer rec.mu.Unlock()
			rec.acked = true
			return nil
		},
		Reject: func(requeue bool) error {
			rec.mu.Lock()
			defer rec.mu.Unlock()
			rec.rejected = true
			rec.requeued = requeue
			return nil
		},
	}
	return rec
}

func (s *stubSource) Receive(ctx context.Context, wait time.Duration) (*Delivery, error) {
	if wait <= 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case err := <-s.failures:
			return nil, err
		case d := <-s.deliveries:
			return d, nil
		}
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	case err := <-s.failures:
		return nil, err
	case d := <-s.deliveries:
		return d, nil
	}
}

func (s *stubSource) Drain(ctx context.Context) (int, error) {
	dropped := 0
	for {
		select {
		case <-s.deliveries:
			dropped++
		default:
			s.mu.Lock()
			s.drained += dropped
			s.drainCalls++
			s.mu.Unlock()
			return dropped, nil
		}
	}
}

func (s *stubSource) totalDrained() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drained
}

func (s *stubSource) drainCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drainCalls
}

type stubResultRepo struct {
	mu       sync.Mutex
	rows     []domain.RawResult
	failures int
}

func (r *stubResultRepo) InsertRawResult(_ context.Context, result *domain.RawResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures > 0 {
		r.failures--
		return errors.New("storage unavailable")
	}
	r.rows = append(r.rows, *result)
	return nil
}

func (r *stubResultRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

type createdSession struct {
	description string
	totalDepth  int
	depths      map[int64]int
	status      string
}

type stubSessionCreator struct {
	mu      sync.Mutex
	created []createdSession
	err     error
}

func (s *stubSessionCreator) Create(_ context.Context, description string, totalDepth int, depths map[int64]int, status string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	copied := make(map[int64]int, len(depths))
	for id, depth := range depths {
		copied[id] = depth
	}
	s.created = append(s.created, createdSession{description: description, totalDepth: totalDepth, depths: copied, status: status})
	desc := &description
	if description == "" {
		desc = nil
	}
	return &domain.Session{ID: 41, Description: desc, TotalDepth: totalDepth, Status: status}, nil
}

func (s *stubSessionCreator) all() []createdSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]createdSession(nil), s.created...)
}

type stubAggregator struct {
	mu       sync.Mutex
	sessions []int64
	buckets  []int
	err      error
}

func (a *stubAggregator) RecomputeSession(_ context.Context, sessionID int64, bucketSeconds int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.sessions = append(a.sessions, sessionID)
	a.buckets = append(a.buckets, bucketSeconds)
	return nil
}

type stubReportRenderer struct {
	err error
}

func (r *stubReportRenderer) Generate(_ context.Context, sessionID int64, _ int) (string, []byte, error) {
	if r.err != nil {
		return "", nil, r.err
	}
	return fmt.Sprintf("report_session_%d.html", sessionID), []byte("<html>report</html>"), nil
}

type stubDonePublisher struct {
	events chan DoneEvent
}

func newStubDonePublisher() *stubDonePublisher {
	return &stubDonePublisher{events: make(chan DoneEvent, 8)}
}

func (p *stubDonePublisher) PublishDone(_ context.Context, event DoneEvent) error {
	p.events <- event
	return nil
}

func (p *stubDonePublisher) wait(t *testing.T) DoneEvent {
	t.Helper()
	select {
	case event := <-p.events:
		return event
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for finished signal")
		return DoneEvent{}
	}
}

type collectorFixture struct {
	control   *stubSource
	data      *stubSource
	repo      *stubResultRepo
	sessions  *stubSessionCreator
	engine    *stubAggregator
	reports   *stubReportRenderer
	publisher *stubDonePublisher
	collector *Collector
	cancel    context.CancelFunc
	done      chan struct{}
}

func startCollector(t *testing.T, timeout time.Duration) *collectorFixture {
	t.Helper()
	f := &collectorFixture{
		control:   newStubSource(),
		data:      newStubSource(),
		repo:      &stubResultRepo{},
		sessions:  &stubSessionCreator{},
		engine:    &stubAggregator{},
		reports:   &stubReportRenderer{},
		publisher: newStubDonePublisher(),
		done:      make(chan struct{}),
	}
	sink := ingest.NewSink(f.repo, nil)
	f.collector = NewCollector(f.control, f.data, sink, f.sessions, f.engine, f.reports, f.publisher, nil, nil, timeout, 10)

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	go func() {
		defer close(f.done)
		_ = f.collector.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-f.done:
		case <-time.After(3 * time.Second):
			t.Error("collector did not stop after cancellation")
		}
	})
	return f
}

// begin publishes a start signal and waits until the collector has drained
// the stale-batch backlog, so batches pushed afterwards belong to the new
// session.
func (f *collectorFixture) begin(t *testing.T, signal string) {
	t.Helper()
	before := f.data.drainCount()
	f.control.push(signal)
	deadline := time.After(2 * time.Second)
	for f.data.drainCount() == before {
		select {
		case <-deadline:
			t.Fatal("collector never drained stale batches after the start signal")
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func batchBody(jobID int64) string {
	return fmt.Sprintf(`{
		"job_id": %d,
		"worker_id": 1,
		"timestamp": "2026-03-02T10:15:30Z",
		"method": "GET",
		"endpoint": "/load",
		"status_code": 200,
		"latency_ms": 12.5,
		"ttfb_ms": null,
		"response_size_bytes": null,
		"error_msg": null,
		"scenario_step": null,
		"is_success": true
	}`, jobID)
}

func TestCollectorCompletesByDepth(t *testing.T) {
	f := startCollector(t, 2*time.Second)
	f.begin(t, `{"description": "nightly", "totalDepth": 2}`)

	var records []*deliveryRecord
	for _, jobID := range []int64{1, 2, 1, 2} {
		records = append(records, f.data.push(batchBody(jobID)))
	}

	event := f.publisher.wait(t)
	if !event.OK {
		t.Fatalf("expected successful finished signal, got error %q", event.Error)
	}
	if event.Event != EventAnalysisDone {
		t.Fatalf("unexpected event name %q", event.Event)
	}
	if event.SessionID == nil || *event.SessionID != 41 {
		t.Fatalf("unexpected session id %v", event.SessionID)
	}
	if event.JobsCount == nil || *event.JobsCount != 2 {
		t.Fatalf("unexpected jobs count %v", event.JobsCount)
	}
	if event.TotalDepth == nil || *event.TotalDepth != 2 {
		t.Fatalf("unexpected total depth %v", event.TotalDepth)
	}
	if event.ReportFilename != "report_session_41.html" {
		t.Fatalf("unexpected report filename %q", event.ReportFilename)
	}
	if event.ReportSizeBytes == 0 || event.ReportB64 == "" {
		t.Fatal("expected report payload in the finished signal")
	}

	created := f.sessions.all()
	if len(created) != 1 {
		t.Fatalf("expected 1 session, got %d", len(created))
	}
	if created[0].status != domain.SessionStatusDone {
		t.Fatalf("unexpected session status %q", created[0].status)
	}
	if created[0].depths[1] != 2 || created[0].depths[2] != 2 {
		t.Fatalf("unexpected depth mapping %v", created[0].depths)
	}
	if f.repo.count() != 4 {
		t.Fatalf("expected 4 stored rows, got %d", f.repo.count())
	}
	for i, rec := range records {
		if acked, _, _ := rec.state(); !acked {
			t.Fatalf("batch %d was not acknowledged", i)
		}
	}
}

func TestCollectorTimeoutWithPartialDataStillMaterializes(t *testing.T) {
	f := startCollector(t, 150*time.Millisecond)
	f.begin(t, `{"description": "soak", "totalDepth": 3}`)
	f.data.push(batchBody(1))

	event := f.publisher.wait(t)
	if !event.OK {
		t.Fatalf("expected successful finished signal, got error %q", event.Error)
	}
	created := f.sessions.all()
	if len(created) != 1 {
		t.Fatalf("expected 1 session, got %d", len(created))
	}
	if created[0].status != domain.SessionStatusDone {
		t.Fatalf("partial sessions still materialize as done, got %q", created[0].status)
	}
	if len(created[0].depths) != 1 || created[0].depths[1] != 1 {
		t.Fatalf("unexpected depth mapping %v", created[0].depths)
	}
}

func TestCollectorTimeoutWithoutDataPublishesFailure(t *testing.T) {
	f := startCollector(t, 80*time.Millisecond)
	f.control.push(`{"description": "idle", "totalDepth": 2}`)

	event := f.publisher.wait(t)
	if event.OK {
		t.Fatal("expected failed finished signal")
	}
	if event.Error != "no raw data received" {
		t.Fatalf("unexpected error %q", event.Error)
	}
	if event.SessionID != nil {
		t.Fatalf("no session must be materialized, got id %v", *event.SessionID)
	}
	if created := f.sessions.all(); len(created) != 0 {
		t.Fatalf("expected no sessions, got %d", len(created))
	}
}

func TestCollectorRejectsMalformedBatchWithoutRedelivery(t *testing.T) {
	f := startCollector(t, 2*time.Second)
	f.begin(t, `{"description": "mixed", "totalDepth": 1}`)

	bad := f.data.push(`{"job_id": "oops"}`)
	good := f.data.push(batchBody(9))

	event := f.publisher.wait(t)
	if !event.OK {
		t.Fatalf("expected successful finished signal, got error %q", event.Error)
	}
	if acked, rejected, requeued := bad.state(); acked || !rejected || requeued {
		t.Fatalf("malformed batch must be rejected without redelivery: acked=%t rejected=%t requeued=%t", acked, rejected, requeued)
	}
	if acked, _, _ := good.state(); !acked {
		t.Fatal("valid batch was not acknowledged")
	}
	if f.repo.count() != 1 {
		t.Fatalf("expected 1 stored row, got %d", f.repo.count())
	}
}

func TestCollectorRequeuesBatchWhenStorageFails(t *testing.T) {
	f := startCollector(t, 2*time.Second)
	f.repo.failures = 1
	f.begin(t, `{"description": "flaky-db", "totalDepth": 1}`)

	first := f.data.push(batchBody(3))

	// Simulate broker redelivery after the requeue.
	deadline := time.After(2 * time.Second)
	for {
		if _, rejected, _ := first.state(); rejected {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for the requeue")
		case <-time.After(5 * time.Millisecond):
		}
	}
	second := f.data.push(batchBody(3))

	f.publisher.wait(t)
	if acked, rejected, requeued := first.state(); acked || !rejected || !requeued {
		t.Fatalf("unpersisted batch must be requeued: acked=%t rejected=%t requeued=%t", acked, rejected, requeued)
	}
	if acked, _, _ := second.state(); !acked {
		t.Fatal("redelivered batch was not acknowledged")
	}
	created := f.sessions.all()
	if len(created) != 1 || created[0].depths[3] != 1 {
		t.Fatalf("unexpected sessions %v", created)
	}
}

func TestCollectorRejectsMalformedStartSignal(t *testing.T) {
	f := startCollector(t, 80*time.Millisecond)
	garbage := f.control.push(`not json`)
	zeroDepth := f.control.push(`{"description": "bad", "totalDepth": 0}`)
	f.control.push(`{"description": "ok", "totalDepth": 1}`)

	event := f.publisher.wait(t)
	if event.Description != "ok" {
		t.Fatalf("expected the valid signal to start collection, got %q", event.Description)
	}
	if acked, rejected, requeued := garbage.state(); acked || !rejected || requeued {
		t.Fatalf("garbage signal: acked=%t rejected=%t requeued=%t", acked, rejected, requeued)
	}
	if acked, rejected, requeued := zeroDepth.state(); acked || !rejected || requeued {
		t.Fatalf("zero-depth signal: acked=%t rejected=%t requeued=%t", acked, rejected, requeued)
	}
}

func TestCollectorTransportLossStillFinalizes(t *testing.T) {
	f := startCollector(t, 2*time.Second)
	f.begin(t, `{"description": "lossy", "totalDepth": 3}`)

	batch := f.data.push(batchBody(5))
	deadline := time.After(2 * time.Second)
	for {
		if acked, _, _ := batch.state(); acked {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for the batch to be acknowledged")
		case <-time.After(5 * time.Millisecond):
		}
	}
	f.data.fail(errors.New("channel closed by broker"))

	event := f.publisher.wait(t)
	if !event.OK {
		t.Fatalf("expected the persisted partial data to be materialized, got error %q", event.Error)
	}
	created := f.sessions.all()
	if len(created) != 1 {
		t.Fatalf("expected 1 session, got %d", len(created))
	}
	if len(created[0].depths) != 1 || created[0].depths[5] != 1 {
		t.Fatalf("unexpected depth mapping %v", created[0].depths)
	}
}

func TestCollectorDrainsStaleBatchesBeforeCollecting(t *testing.T) {
	f := startCollector(t, 80*time.Millisecond)
	stale := f.data.push(batchBody(7))
	f.control.push(`{"description": "fresh", "totalDepth": 1}`)

	event := f.publisher.wait(t)
	if event.OK {
		t.Fatal("stale batches must not count toward the new session")
	}
	if acked, rejected, _ := stale.state(); acked || rejected {
		t.Fatalf("drained batch must be discarded silently: acked=%t rejected=%t", acked, rejected)
	}
	if f.data.totalDrained() == 0 {
		t.Fatal("expected the stale batch to be drained")
	}
	if f.repo.count() != 0 {
		t.Fatalf("expected no stored rows, got %d", f.repo.count())
	}
}

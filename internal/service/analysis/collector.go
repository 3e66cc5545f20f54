package analysis

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"time"

	"github.com/Merkirus/cloud-raporting/internal/domain"
	"github.com/Merkirus/cloud-raporting/internal/service/ingest"
)

// CompletionReason says why a collection cycle ended.
type CompletionReason string

// Completion reasons.
const (
	CompletionDepth   CompletionReason = "depth"
	CompletionTimeout CompletionReason = "timeout"
	CompletionAborted CompletionReason = "aborted"
)

// Delivery is one unacknowledged message taken from a queue. Ack confirms
// processing; Reject refuses it, optionally asking the broker to redeliver.
type Delivery struct {
	Body   []byte
	Ack    func() error
	Reject func(requeue bool) error
}

// Source consumes deliveries from a single queue.
type Source interface {
	// Receive blocks until a delivery arrives, the wait elapses (returning
	// nil, nil), or the context is cancelled. A non-positive wait blocks
	// until a delivery or cancellation.
	Receive(ctx context.Context, wait time.Duration) (*Delivery, error)
	// Drain discards queued deliveries without processing them and returns
	// how many were dropped.
	Drain(ctx context.Context) (int, error)
}

// DonePublisher emits the finished signal for a session attempt.
type DonePublisher interface {
	PublishDone(ctx context.Context, event DoneEvent) error
}

// SessionCreator materializes a finished job depth mapping.
type SessionCreator interface {
	Create(ctx context.Context, description string, totalDepth int, depths map[int64]int, status string) (*domain.Session, error)
}

// Aggregator recomputes the derived summaries of a session.
type Aggregator interface {
	RecomputeSession(ctx context.Context, sessionID int64, bucketSeconds int) error
}

// ReportRenderer renders the persisted aggregates of a session and returns
// the report filename with the rendered bytes.
type ReportRenderer interface {
	Generate(ctx context.Context, sessionID int64, bucketSeconds int) (string, []byte, error)
}

// Collector runs the session-completion protocol: one sequential loop that
// waits for a start signal, collects raw batches for exactly one session at
// a time, and finalizes the session either when every job reached the target
// depth or when no batch arrived within the inactivity window.
type Collector struct {
	control   Source
	data      Source
	sink      *ingest.Sink
	sessions  SessionCreator
	engine    Aggregator
	reports   ReportRenderer
	publisher DonePublisher
	metrics   *Metrics
	logger    *slog.Logger

	timeout       time.Duration
	bucketSeconds int
	now           func() time.Time
}

const defaultInactivityTimeout = 5 * time.Second

// NewCollector constructs a Collector.
func NewCollector(control, data Source, sink *ingest.Sink, sessions SessionCreator, engine Aggregator, reports ReportRenderer, publisher DonePublisher, metrics *Metrics, logger *slog.Logger, timeout time.Duration, bucketSeconds int) *Collector {
	if timeout <= 0 {
		timeout = defaultInactivityTimeout
	}
	if bucketSeconds < 1 {
		bucketSeconds = 10
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("component", "collector")
	return &Collector{
		control:       control,
		data:          data,
		sink:          sink,
		sessions:      sessions,
		engine:        engine,
		reports:       reports,
		publisher:     publisher,
		metrics:       metrics,
		logger:        logger,
		timeout:       timeout,
		bucketSeconds: bucketSeconds,
		now:           time.Now,
	}
}

// Run alternates between waiting for a start signal and collecting one
// session until the context is cancelled.
func (c *Collector) Run(ctx context.Context) error {
	c.logger.Info("collector started", "inactivity_timeout", c.timeout, "bucket_seconds", c.bucketSeconds)
	for {
		start, err := c.awaitStart(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				c.logger.Info("collector stopped")
				return err
			}
			return err
		}
		// Batches queued before this start belong to no session.
		if dropped, err := c.data.Drain(ctx); err != nil {
			c.logger.Warn("failed to drain stale batches", "error", err)
		} else if dropped > 0 {
			c.logger.Info("discarded stale batches", "count", dropped)
		}
		c.collect(ctx, start)
	}
}

// awaitStart blocks until a well-formed start signal arrives. Malformed
// payloads are rejected without redelivery; the signal is acknowledged only
// after a successful parse.
func (c *Collector) awaitStart(ctx context.Context) (StartSignal, error) {
	c.logger.Info("waiting for start signal")
	for {
		delivery, err := c.control.Receive(ctx, 0)
		if err != nil {
			return StartSignal{}, err
		}
		if delivery == nil {
			continue
		}
		signal, err := decodeStart(delivery.Body)
		if err != nil {
			c.logger.Warn("rejecting malformed start signal", "error", err)
			if rejectErr := delivery.Reject(false); rejectErr != nil {
				c.logger.Warn("failed to reject start signal", "error", rejectErr)
			}
			continue
		}
		if err := delivery.Ack(); err != nil {
			c.logger.Warn("failed to acknowledge start signal", "error", err)
		}
		c.logger.Info("start signal received", "description", signal.Description, "total_depth", signal.TotalDepth)
		return signal, nil
	}
}

// collect consumes raw batches for one session. Each processed batch resets
// the inactivity clock; malformed or unpersisted batches do not.
func (c *Collector) collect(ctx context.Context, start StartSignal) {
	tracker := NewDepthTracker()
	lastBatch := c.now()
	log := c.logger.With("description", start.Description, "total_depth", start.TotalDepth)
	log.Info("collecting raw batches")

	for {
		wait := c.timeout - c.now().Sub(lastBatch)
		if wait <= 0 {
			c.finalize(ctx, start, tracker, CompletionTimeout)
			return
		}
		delivery, err := c.data.Receive(ctx, wait)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				log.Info("stopped collecting", "error", err)
				return
			}
			// Consumer loss still ends this attempt with its one finished
			// signal; whatever was persisted so far is materialized.
			log.Error("transport failed while collecting", "error", err)
			c.finalize(ctx, start, tracker, CompletionAborted)
			return
		}
		if delivery == nil {
			c.finalize(ctx, start, tracker, CompletionTimeout)
			return
		}

		results, err := ingest.DecodeBatch(delivery.Body)
		if err != nil {
			log.Warn("rejecting malformed batch", "error", err)
			c.metrics.BatchRejected()
			if rejectErr := delivery.Reject(false); rejectErr != nil {
				log.Warn("failed to reject batch", "error", rejectErr)
			}
			continue
		}
		stored, err := c.sink.Store(ctx, results)
		if err != nil {
			// Not acknowledged: the broker redelivers once storage recovers.
			log.Error("failed to persist batch", "stored", stored, "error", err)
			if rejectErr := delivery.Reject(true); rejectErr != nil {
				log.Warn("failed to requeue batch", "error", rejectErr)
			}
			continue
		}
		tracker.Observe(jobIDs(results))
		if err := delivery.Ack(); err != nil {
			log.Warn("failed to acknowledge batch", "error", err)
		}
		lastBatch = c.now()
		c.metrics.BatchConsumed(stored)
		log.Debug("batch processed", "records", stored, "jobs_tracked", tracker.Len())

		if tracker.CompleteByDepth(start.TotalDepth) {
			c.finalize(ctx, start, tracker, CompletionDepth)
			return
		}
	}
}

// finalize materializes the collected mapping, publishes exactly one
// finished signal, and drains batches queued after completion so they cannot
// resurrect this session.
func (c *Collector) finalize(ctx context.Context, start StartSignal, tracker *DepthTracker, reason CompletionReason) {
	depths := tracker.Snapshot()
	log := c.logger.With("description", start.Description, "reason", reason, "jobs", len(depths))
	log.Info("session collection finished")

	event := c.finalizeSession(ctx, start, depths)
	outcome := "failed"
	if event.OK {
		outcome = "done"
	}
	c.metrics.SessionFinalized(outcome, reason)

	if err := c.publisher.PublishDone(ctx, event); err != nil {
		log.Error("failed to publish finished signal", "error", err)
		c.metrics.DonePublished("failure")
	} else {
		c.metrics.DonePublished("success")
	}

	if dropped, err := c.data.Drain(ctx); err != nil {
		log.Warn("failed to drain trailing batches", "error", err)
	} else if dropped > 0 {
		log.Info("discarded trailing batches", "count", dropped)
	}
}

// finalizeSession runs materialization, aggregation, and report rendering,
// folding any failure into a descriptive finished signal.
func (c *Collector) finalizeSession(ctx context.Context, start StartSignal, depths map[int64]int) DoneEvent {
	failed := func(msg string) DoneEvent {
		return DoneEvent{
			Event:       EventAnalysisDone,
			OK:          false,
			Description: start.Description,
			Error:       msg,
		}
	}

	if len(depths) == 0 {
		return failed("no raw data received")
	}

	session, err := c.sessions.Create(ctx, start.Description, start.TotalDepth, depths, domain.SessionStatusDone)
	if err != nil {
		c.logger.Error("failed to materialize session", "error", err)
		return failed("session materialization failed: " + err.Error())
	}

	began := c.now()
	if err := c.engine.RecomputeSession(ctx, session.ID, c.bucketSeconds); err != nil {
		c.logger.Error("failed to aggregate session", "session_id", session.ID, "error", err)
		return failed("aggregation failed: " + err.Error())
	}
	c.metrics.ObserveAggregation(c.now().Sub(began))

	filename, body, err := c.reports.Generate(ctx, session.ID, c.bucketSeconds)
	if err != nil {
		c.logger.Error("failed to render report", "session_id", session.ID, "error", err)
		return failed("report rendering failed: " + err.Error())
	}

	jobsCount := len(depths)
	totalDepth := start.TotalDepth
	return DoneEvent{
		Event:           EventAnalysisDone,
		OK:              true,
		Description:     start.Description,
		SessionID:       &session.ID,
		JobsCount:       &jobsCount,
		TotalDepth:      &totalDepth,
		ReportFilename:  filename,
		ReportSizeBytes: int64(len(body)),
		ReportB64:       base64.StdEncoding.EncodeToString(body),
	}
}

func jobIDs(results []domain.RawResult) []int64 {
	ids := make([]int64, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.JobID)
	}
	return ids
}

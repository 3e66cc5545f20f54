package rabbit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Merkirus/cloud-raporting/internal/service/analysis"
)

// Queue consumes one queue through a deadline-bounded receive instead of a
// sleep-poll loop: a delivery arriving and the wait elapsing are the only
// two exits.
type Queue struct {
	ch         *amqp.Channel
	name       string
	deliveries <-chan amqp.Delivery
	logger     *slog.Logger
}

var _ analysis.Source = (*Queue)(nil)

// Receive blocks until a delivery arrives, the wait elapses (nil, nil), or
// the context is cancelled. A non-positive wait blocks indefinitely.
func (q *Queue) Receive(ctx context.Context, wait time.Duration) (*analysis.Delivery, error) {
	var deadline <-chan time.Time
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		deadline = timer.C
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-deadline:
		return nil, nil
	case delivery, ok := <-q.deliveries:
		if !ok {
			return nil, fmt.Errorf("consumer for queue %s closed", q.name)
		}
		return &analysis.Delivery{
			Body:   delivery.Body,
			Ack:    func() error { return delivery.Ack(false) },
			Reject: func(requeue bool) error { return delivery.Nack(false, requeue) },
		}, nil
	}
}

// Drain acknowledges and discards everything queued: first the delivery the
// consumer may already hold prefetched, then the broker-side backlog.
func (q *Queue) Drain(ctx context.Context) (int, error) {
	dropped := 0
	for {
		if err := ctx.Err(); err != nil {
			return dropped, err
		}
		select {
		case delivery, ok := <-q.deliveries:
			if !ok {
				return dropped, fmt.Errorf("consumer for queue %s closed", q.name)
			}
			if err := delivery.Ack(false); err != nil {
				return dropped, err
			}
			dropped++
			continue
		default:
		}
		_, ok, err := q.ch.Get(q.name, true)
		if err != nil {
			return dropped, fmt.Errorf("drain queue %s: %w", q.name, err)
		}
		if !ok {
			return dropped, nil
		}
		dropped++
	}
}

package rabbit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Merkirus/cloud-raporting/internal/service/analysis"
)

// Config names the AMQP topology the analyzer consumes and publishes on.
type Config struct {
	URL        string
	Exchange   string
	StartQueue string
	StartKey   string
	DoneQueue  string
	DoneKey    string
	RawQueue   string
}

// Client owns one AMQP connection and channel with the analyzer topology
// declared: a durable direct exchange, the control and done queues bound to
// it, and the raw data queue. The channel runs with prefetch 1 and publisher
// confirms, mirroring the single-worker acknowledgement discipline.
type Client struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	cfg      Config
	workerID string
	logger   *slog.Logger
}

var _ analysis.DonePublisher = (*Client)(nil)

// Dial connects to the broker and declares the topology.
func Dial(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger != nil {
		logger = logger.With("component", "rabbit")
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set prefetch: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}

	if err := ch.ExchangeDeclare(cfg.Exchange, "direct", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", cfg.Exchange, err)
	}
	for _, binding := range []struct {
		queue string
		key   string
	}{
		{queue: cfg.StartQueue, key: cfg.StartKey},
		{queue: cfg.DoneQueue, key: cfg.DoneKey},
	} {
		if _, err := ch.QueueDeclare(binding.queue, true, false, false, false, nil); err != nil {
			conn.Close()
			return nil, fmt.Errorf("declare queue %s: %w", binding.queue, err)
		}
		if err := ch.QueueBind(binding.queue, binding.key, cfg.Exchange, false, nil); err != nil {
			conn.Close()
			return nil, fmt.Errorf("bind queue %s: %w", binding.queue, err)
		}
	}
	if _, err := ch.QueueDeclare(cfg.RawQueue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", cfg.RawQueue, err)
	}

	client := &Client{
		conn:     conn,
		ch:       ch,
		cfg:      cfg,
		workerID: uuid.NewString(),
		logger:   logger,
	}
	if logger != nil {
		logger.Info("broker topology declared",
			"exchange", cfg.Exchange,
			"start_queue", cfg.StartQueue,
			"done_queue", cfg.DoneQueue,
			"raw_queue", cfg.RawQueue,
			"worker_id", client.workerID,
		)
	}
	return client, nil
}

// StartSource returns the control-queue consumer.
func (c *Client) StartSource() (*Queue, error) {
	return c.consume(c.cfg.StartQueue)
}

// RawSource returns the data-queue consumer.
func (c *Client) RawSource() (*Queue, error) {
	return c.consume(c.cfg.RawQueue)
}

func (c *Client) consume(queue string) (*Queue, error) {
	tag := fmt.Sprintf("analyzer-%s-%s", queue, c.workerID)
	deliveries, err := c.ch.Consume(queue, tag, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume queue %s: %w", queue, err)
	}
	return &Queue{ch: c.ch, name: queue, deliveries: deliveries, logger: c.logger}, nil
}

// PublishDone publishes the finished signal as a persistent JSON message and
// waits for the broker confirmation.
func (c *Client) PublishDone(ctx context.Context, event analysis.DoneEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal done event: %w", err)
	}
	confirmation, err := c.ch.PublishWithDeferredConfirmWithContext(ctx, c.cfg.Exchange, c.cfg.DoneKey, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish done event: %w", err)
	}
	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await publish confirmation: %w", err)
	}
	if !acked {
		return errors.New("broker rejected done event")
	}
	if c.logger != nil {
		c.logger.Info("done event published", "ok", event.OK, "routing_key", c.cfg.DoneKey)
	}
	return nil
}

// Healthy reports whether the broker connection is still usable.
func (c *Client) Healthy() error {
	if c.conn.IsClosed() {
		return errors.New("broker connection closed")
	}
	if c.ch.IsClosed() {
		return errors.New("broker channel closed")
	}
	return nil
}

// Close tears down the channel and connection.
func (c *Client) Close() error {
	if err := c.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		c.conn.Close()
		return err
	}
	return c.conn.Close()
}

// Package rabbitmq consumes MinIO bucket notifications published to an
// AMQP queue and feeds them to the pipeline.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/trunov/thumbhub/internal/config"
	"github.com/trunov/thumbhub/internal/entities"
	"github.com/trunov/thumbhub/internal/events"
	"github.com/trunov/thumbhub/internal/pipeline"
)

type Processor interface {
	ProcessBatch(ctx context.Context, records []entities.EventRecord) []pipeline.Result
}

// Consumer handles RabbitMQ message consumption
type Consumer struct {
	conn      *amqp.Connection
	channel   *amqp.Channel
	queueName string
	proc      Processor
	logger    *slog.Logger
}

// NewConsumer dials RabbitMQ, declares the queue and applies the prefetch.
func NewConsumer(cfg config.AMQPConfig, proc Processor, logger *slog.Logger) (*Consumer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "amqp-consumer", "queue", cfg.Queue)

	conn, err := connectWithRetry(cfg.URL, 10, 5*time.Second, logger)
	if err != nil {
		return nil, err
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	_, err = channel.QueueDeclare(
		cfg.Queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := channel.Qos(max(cfg.Prefetch, 1), 0, false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	logger.Info("connected to RabbitMQ")

	return &Consumer{
		conn:      conn,
		channel:   channel,
		queueName: cfg.Queue,
		proc:      proc,
		logger:    logger,
	}, nil
}

func connectWithRetry(url string, maxRetries int, delay time.Duration, logger *slog.Logger) (*amqp.Connection, error) {
	var conn *amqp.Connection
	var err error

	for i := 0; i < maxRetries; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			return conn, nil
		}

		logger.Warn("failed to connect", "attempt", i+1, "max", maxRetries, "err", err)
		if i < maxRetries-1 {
			time.Sleep(delay)
		}
	}

	return nil, fmt.Errorf("failed to connect after %d attempts: %w", maxRetries, err)
}

// Start consumes until ctx is done or the broker closes the delivery channel.
func (c *Consumer) Start(ctx context.Context) error {
	msgs, err := c.channel.ConsumeWithContext(
		ctx,
		c.queueName,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("waiting for notifications")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.handle(ctx, msg)
		}
	}
}

// Acknowledger is the part of amqp.Delivery that settles a message.
type Acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

type outcome int

const (
	ack outcome = iota
	requeue
	reject
)

func (c *Consumer) handle(ctx context.Context, msg amqp.Delivery) {
	c.settle(msg, c.process(ctx, msg.Body, msg.Redelivered), msg.MessageId)
}

// process runs the notification and decides how the message is settled.
// A message with retryable failures goes back to the queue once; the
// broker flags the second delivery as redelivered and it is acked then.
func (c *Consumer) process(ctx context.Context, body []byte, redelivered bool) outcome {
	n, err := events.Parse(body)
	if err != nil {
		c.logger.Error("rejecting notification", "err", err)
		return reject
	}

	results := c.proc.ProcessBatch(ctx, n.EventRecords())
	for _, r := range results {
		if r.Retryable() && !redelivered {
			return requeue
		}
	}
	return ack
}

func (c *Consumer) settle(msg Acknowledger, o outcome, id string) {
	var err error
	switch o {
	case requeue:
		c.logger.Warn("requeueing notification with retryable failures", "message_id", id)
		err = msg.Nack(false, true)
	case reject:
		// don't requeue to avoid an infinite loop
		err = msg.Nack(false, false)
	default:
		err = msg.Ack(false)
	}
	if err != nil {
		c.logger.Error("failed to settle message", "message_id", id, "err", err)
	}
}

// Close closes the consumer connection
func (c *Consumer) Close() error {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

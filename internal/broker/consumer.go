package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/jcmexdev/ecommerce-choreography/internal/pkg/metrics"
)

// Headers attached to redelivered and dead-lettered messages. The retry
// counter lives in the envelope, not the payload, so the JSON wire contract
// stays untouched.
const (
	retryCountHeader = "x-retry-count"
	deadReasonHeader = "x-dead-reason"
)

// Message is one delivery as seen by a handler. ID carries the AMQP
// MessageId property, which publishers set to a deterministic idempotency
// key (the order id) so handlers can deduplicate redeliveries.
type Message struct {
	ID   string
	Body []byte
}

// HandlerFunc processes one message. Returning an error triggers the bounded
// retry policy; returning nil acknowledges the message.
type HandlerFunc func(ctx context.Context, msg Message) error

type ConsumerConfig struct {
	Queue string

	// Optional binding. When both are set the exchange is declared and the
	// queue bound to it before consuming.
	Exchange   string
	RoutingKey string

	// MaxRetries is the number of redeliveries a failing message gets before
	// it is routed to <queue>.dlq.
	MaxRetries int

	// Reconnect policy for connection-level faults.
	MaxConnectAttempts int
	ReconnectBackoff   time.Duration
}

// Consumer binds a durable queue, consumes with prefetch 1 and drives the
// ack/retry/dead-letter state machine for every delivery. One Consumer owns
// one queue and runs on its own goroutine.
type Consumer struct {
	dial     DialFunc
	cfg      ConsumerConfig
	handler  HandlerFunc
	counters *metrics.Counters
}

func NewConsumer(dial DialFunc, cfg ConsumerConfig, handler HandlerFunc, counters *metrics.Counters) *Consumer {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.MaxConnectAttempts <= 0 {
		cfg.MaxConnectAttempts = 10
	}
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = time.Second
	}
	if counters == nil {
		counters = metrics.Default
	}
	return &Consumer{dial: dial, cfg: cfg, handler: handler, counters: counters}
}

// Run consumes until ctx is cancelled. Connection-level faults are retried
// with exponential backoff up to MaxConnectAttempts consecutive failures,
// after which the terminal error is returned to the caller.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := c.cfg.ReconnectBackoff
	const maxBackoff = 30 * time.Second

	for attempt := 1; ; attempt++ {
		err := c.consume(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		slog.ErrorContext(ctx, "consumer connection lost",
			"queue", c.cfg.Queue,
			"attempt", attempt,
			"error", err,
		)
		if attempt >= c.cfg.MaxConnectAttempts {
			return fmt.Errorf("broker: consumer for %q gave up after %d connection attempts: %w",
				c.cfg.Queue, attempt, err)
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}

// consume runs one connection session: declare topology, then dispatch
// deliveries until the connection drops or ctx is cancelled.
func (c *Consumer) consume(ctx context.Context) error {
	conn, err := c.dial()
	if err != nil {
		return fmt.Errorf("broker: dial: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("broker: open channel: %w", err)
	}
	defer ch.Close()

	if err := c.declareTopology(ch); err != nil {
		return err
	}

	// Prefetch 1: a single unacknowledged message in flight per consumer.
	// Backpressure over throughput.
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("broker: set prefetch on %s: %w", c.cfg.Queue, err)
	}

	deliveries, err := ch.Consume(c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("broker: consume %s: %w", c.cfg.Queue, err)
	}

	slog.InfoContext(ctx, "consumer started", "queue", c.cfg.Queue)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("broker: delivery channel closed")
			}
			c.dispatch(ctx, ch, d)
		}
	}
}

func (c *Consumer) declareTopology(ch *amqp.Channel) error {
	if _, err := ch.QueueDeclare(c.cfg.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("broker: declare queue %s: %w", c.cfg.Queue, err)
	}
	if _, err := ch.QueueDeclare(c.dlqName(), true, false, false, false, nil); err != nil {
		return fmt.Errorf("broker: declare dead-letter queue %s: %w", c.dlqName(), err)
	}
	if c.cfg.Exchange != "" && c.cfg.RoutingKey != "" {
		if err := ch.ExchangeDeclare(c.cfg.Exchange, "direct", true, false, false, false, nil); err != nil {
			return fmt.Errorf("broker: declare exchange %s: %w", c.cfg.Exchange, err)
		}
		if err := ch.QueueBind(c.cfg.Queue, c.cfg.RoutingKey, c.cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("broker: bind %s to %s: %w", c.cfg.Queue, c.cfg.Exchange, err)
		}
	}
	return nil
}

// republisher is the subset of *amqp091.Channel dispatch needs to push retry
// copies and dead letters. Narrowed for testability.
type republisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// dispatch applies the per-message policy:
//
//	handler ok            -> ack
//	handler error         -> republish with bumped retry counter, then ack
//	retry budget spent    -> publish to <queue>.dlq, then ack
//	republish failed      -> nack with requeue (the broker redelivers)
//	body not JSON         -> straight to <queue>.dlq, retries cannot fix it
//
// The original is only acked after its copy is accepted by the broker, so a
// well-formed message is never lost (at-least-once).
func (c *Consumer) dispatch(ctx context.Context, pub republisher, d amqp.Delivery) {
	if !json.Valid(d.Body) {
		c.deadLetter(ctx, pub, d, "malformed JSON body")
		return
	}

	err := c.invoke(ctx, Message{ID: d.MessageId, Body: d.Body})
	if err == nil {
		_ = d.Ack(false)
		c.counters.IncConsumed()
		return
	}

	retries := retryCount(d.Headers)
	if retries >= c.cfg.MaxRetries {
		slog.ErrorContext(ctx, "retry budget exhausted, dead-lettering",
			"queue", c.cfg.Queue, "message_id", d.MessageId, "retries", retries, "error", err)
		c.deadLetter(ctx, pub, d, err.Error())
		return
	}

	headers := cloneHeaders(d.Headers)
	headers[retryCountHeader] = int32(retries + 1)

	pubErr := pub.PublishWithContext(ctx, "", c.cfg.Queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    d.MessageId,
		Headers:      headers,
		Body:         d.Body,
	})
	if pubErr != nil {
		slog.ErrorContext(ctx, "failed to requeue message, nacking",
			"queue", c.cfg.Queue, "message_id", d.MessageId, "error", pubErr)
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
	c.counters.IncRetried()
	slog.WarnContext(ctx, "message handler failed, requeued",
		"queue", c.cfg.Queue, "message_id", d.MessageId, "retry", retries+1, "error", err)
}

// invoke shields the runtime from handler panics; a panic is just another
// handler failure.
func (c *Consumer) invoke(ctx context.Context, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("broker: handler panic: %v", r)
		}
	}()
	return c.handler(ctx, msg)
}

func (c *Consumer) deadLetter(ctx context.Context, pub republisher, d amqp.Delivery, reason string) {
	headers := cloneHeaders(d.Headers)
	headers[deadReasonHeader] = reason

	err := pub.PublishWithContext(ctx, "", c.dlqName(), false, false, amqp.Publishing{
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    d.MessageId,
		Headers:      headers,
		Body:         d.Body,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to dead-letter message, nacking",
			"queue", c.cfg.Queue, "message_id", d.MessageId, "error", err)
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
	c.counters.IncDeadLettered()
}

func (c *Consumer) dlqName() string {
	return c.cfg.Queue + ".dlq"
}

func cloneHeaders(h amqp.Table) amqp.Table {
	out := amqp.Table{}
	for k, v := range h {
		out[k] = v
	}
	return out
}

// retryCount reads the retry header, tolerating the integer widths the AMQP
// field table may hand back.
func retryCount(h amqp.Table) int {
	switch v := h[retryCountHeader].(type) {
	case int:
		return v
	case int8:
		return int(v)
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

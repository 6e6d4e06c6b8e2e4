package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sony/gobreaker/v2"

	"github.com/jcmexdev/ecommerce-choreography/internal/pkg/metrics"
)

// Publisher declares durable exchanges and publishes persistent JSON
// messages. It never returns an error to the caller: checkout success must
// not depend on broker availability, so failures are logged, counted and
// reported as a plain false.
//
// A circuit breaker sits in front of the pool so that a dead broker costs a
// rejected call instead of a dial timeout on every checkout.
type Publisher struct {
	pool     *Pool
	breaker  *gobreaker.CircuitBreaker[struct{}]
	counters *metrics.Counters
}

func NewPublisher(pool *Pool, counters *metrics.Counters) *Publisher {
	if counters == nil {
		counters = metrics.Default
	}
	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "broker_publisher",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
	})
	return &Publisher{pool: pool, breaker: breaker, counters: counters}
}

// Publish sends one persistent message to exchange/routingKey. The messageID
// becomes the AMQP MessageId property so consumers can deduplicate
// redeliveries; the payload is marshalled as-is, so its JSON tags are the
// wire contract.
func (p *Publisher) Publish(ctx context.Context, exchange, routingKey, messageID string, payload any) bool {
	_, err := p.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, p.publish(ctx, exchange, routingKey, messageID, payload)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			p.counters.IncBreakerOpen()
		}
		p.counters.IncPublishFailure()
		slog.ErrorContext(ctx, "publish failed",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", messageID,
			"error", err,
		)
		return false
	}
	p.counters.IncPublished()
	return true
}

func (p *Publisher) publish(ctx context.Context, exchange, routingKey, messageID string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("broker: marshal message for %s: %w", exchange, err)
	}

	conn, err := p.pool.Get(ctx)
	if err != nil {
		return fmt.Errorf("broker: acquire connection: %w", err)
	}
	defer p.pool.Put(conn)

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("broker: open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(exchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("broker: declare exchange %s: %w", exchange, err)
	}

	err = ch.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("broker: publish to %s/%s: %w", exchange, routingKey, err)
	}
	return nil
}

// Package amqpbus publishes and consumes alert events over a RabbitMQ fanout
// exchange.
package amqpbus

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/signalsfoundry/rail-geofence/internal/events"
	"github.com/signalsfoundry/rail-geofence/internal/logging"
)

const (
	DefaultExchange = "railfence.events"
	DefaultQueue    = "railfence_alerts"
)

// Channel is the subset of *amqp.Channel the bus uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// Config names the exchange and queue.
type Config struct {
	Exchange string
	Queue    string
}

func (c Config) withDefaults() Config {
	if c.Exchange == "" {
		c.Exchange = DefaultExchange
	}
	if c.Queue == "" {
		c.Queue = DefaultQueue
	}
	return c
}

// Bus is an AMQP-backed events.Publisher.
type Bus struct {
	cfg  Config
	ch   Channel
	conn *amqp.Connection
	log  logging.Logger
}

// Dial connects to url and declares the topology.
func Dial(url string, cfg Config, log logging.Logger) (*Bus, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq connect: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	bus, err := New(ch, cfg, log)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	bus.conn = conn
	return bus, nil
}

// New declares a durable fanout exchange and a durable queue bound to it on
// ch.
func New(ch Channel, cfg Config, log logging.Logger) (*Bus, error) {
	cfg = cfg.withDefaults()
	if log == nil {
		log = logging.Noop()
	}

	if err := ch.ExchangeDeclare(cfg.Exchange, "fanout", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(cfg.Queue, "", cfg.Exchange, false, nil); err != nil {
		return nil, fmt.Errorf("bind queue: %w", err)
	}
	return &Bus{cfg: cfg, ch: ch, log: log}, nil
}

// Publish sends e to the exchange as a persistent JSON message.
func (b *Bus) Publish(ctx context.Context, e events.Event) error {
	body, err := e.Encode()
	if err != nil {
		return err
	}
	return b.ch.PublishWithContext(ctx, b.cfg.Exchange, e.Type, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    e.ID,
		Type:         e.Type,
		Timestamp:    e.OccurredAt,
		Body:         body,
	})
}

// Subscribe consumes the queue with manual acknowledgement until ctx is
// cancelled or the channel closes. Undecodable messages are rejected without
// requeue; handler failures are requeued.
func (b *Bus) Subscribe(ctx context.Context, consumer string, handler events.Handler) error {
	deliveries, err := b.ch.Consume(b.cfg.Queue, consumer, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", b.cfg.Queue, err)
	}

	b.log.Info(ctx, "consuming alert events",
		logging.String("queue", b.cfg.Queue),
		logging.String("consumer", consumer),
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("consume %s: delivery channel closed", b.cfg.Queue)
			}
			b.handle(ctx, d, handler)
		}
	}
}

func (b *Bus) handle(ctx context.Context, d amqp.Delivery, handler events.Handler) {
	e, err := events.Decode(d.Body)
	if err != nil {
		b.log.Warn(ctx, "dropping undecodable alert event",
			logging.String("message_id", d.MessageId),
			logging.Err(err),
		)
		_ = d.Reject(false)
		return
	}
	if err := handler(ctx, e); err != nil {
		b.log.Warn(ctx, "alert event handler failed",
			logging.String("event_id", e.ID),
			logging.Err(err),
		)
		_ = d.Nack(false, true)
		return
	}
	if err := d.Ack(false); err != nil {
		b.log.Warn(ctx, "ack alert event failed", logging.String("event_id", e.ID), logging.Err(err))
	}
}

// HealthCheck reports whether the dialled connection is still open. A bus
// built with New over a bare channel is always healthy.
func (b *Bus) HealthCheck() error {
	if b.conn != nil && b.conn.IsClosed() {
		return errors.New("rabbitmq connection closed")
	}
	return nil
}

// Close closes the channel and, when the bus dialled it, the connection.
func (b *Bus) Close() error {
	if b == nil {
		return nil
	}
	err := b.ch.Close()
	if b.conn != nil {
		if cerr := b.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

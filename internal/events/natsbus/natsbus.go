// Package natsbus publishes and consumes alert events over NATS JetStream.
package natsbus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/signalsfoundry/rail-geofence/internal/events"
	"github.com/signalsfoundry/rail-geofence/internal/logging"
)

const (
	DefaultStream          = "RAILFENCE_ALERTS"
	DefaultSubjectPrefix   = "railfence.alerts"
	DefaultDuplicateWindow = 2 * time.Minute
	DefaultMaxAge          = 24 * time.Hour

	fetchBatch = 10
	fetchWait  = 2 * time.Second
)

// Config describes the JetStream stream alert events are written to.
type Config struct {
	URL             string
	Stream          string
	SubjectPrefix   string
	DuplicateWindow time.Duration
	MaxAge          time.Duration
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.Stream == "" {
		c.Stream = DefaultStream
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = DefaultSubjectPrefix
	}
	if c.DuplicateWindow <= 0 {
		c.DuplicateWindow = DefaultDuplicateWindow
	}
	if c.MaxAge <= 0 {
		c.MaxAge = DefaultMaxAge
	}
	return c
}

// Bus is a JetStream-backed events.Publisher.
type Bus struct {
	cfg Config
	nc  *nats.Conn
	js  nats.JetStreamContext
	log logging.Logger
}

// Connect dials cfg.URL, opens a JetStream context and makes sure the alert
// stream exists.
func Connect(cfg Config, log logging.Logger) (*Bus, error) {
	cfg = cfg.withDefaults()
	if log == nil {
		log = logging.Noop()
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name("railfence"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Warn(context.Background(), "nats error", logging.Err(err))
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn(context.Background(), "nats disconnected", logging.Err(err))
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info(context.Background(), "nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", cfg.URL, err)
	}

	bus, err := newBus(nc, cfg, log)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return bus, nil
}

func newBus(nc *nats.Conn, cfg Config, log logging.Logger) (*Bus, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}
	b := &Bus{cfg: cfg, nc: nc, js: js, log: log}
	if err := b.EnsureStream(); err != nil {
		return nil, err
	}
	return b, nil
}

// EnsureStream creates the alert stream, or updates it when it already exists.
func (b *Bus) EnsureStream() error {
	sc := &nats.StreamConfig{
		Name:       b.cfg.Stream,
		Subjects:   []string{b.cfg.SubjectPrefix + ".>"},
		Retention:  nats.LimitsPolicy,
		MaxAge:     b.cfg.MaxAge,
		MaxMsgSize: 64 * 1024,
		Replicas:   1,
		Duplicates: b.cfg.DuplicateWindow,
		Discard:    nats.DiscardOld,
	}

	if _, err := b.js.StreamInfo(sc.Name); err == nil {
		if _, err := b.js.UpdateStream(sc); err != nil {
			return fmt.Errorf("update stream %s: %w", sc.Name, err)
		}
		return nil
	}
	if _, err := b.js.AddStream(sc); err != nil {
		return fmt.Errorf("add stream %s: %w", sc.Name, err)
	}
	b.log.Info(context.Background(), "created alert stream",
		logging.String("stream", sc.Name),
		logging.String("subjects", sc.Subjects[0]),
	)
	return nil
}

// Publish writes e to its subject, deduplicated on the event id.
func (b *Bus) Publish(ctx context.Context, e events.Event) error {
	data, err := e.Encode()
	if err != nil {
		return err
	}
	return b.PublishWithDedup(ctx, e.Subject(b.cfg.SubjectPrefix), data, e.ID)
}

// PublishWithDedup publishes data with a Nats-Msg-Id header so JetStream drops
// repeats of msgID inside the duplicate window.
func (b *Bus) PublishWithDedup(ctx context.Context, subject string, data []byte, msgID string) error {
	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, msgID)

	if _, err := b.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe pulls events through the durable consumer and hands each to
// handler until ctx is cancelled. Messages the handler rejects, or that do
// not decode, are negatively acknowledged or terminated respectively.
func (b *Bus) Subscribe(ctx context.Context, durable string, handler events.Handler) error {
	sub, err := b.js.PullSubscribe(b.cfg.SubjectPrefix+".>", durable,
		nats.BindStream(b.cfg.Stream),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.DeliverAll(),
		nats.MaxDeliver(5),
	)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", durable, err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	b.log.Info(ctx, "consuming alert events",
		logging.String("stream", b.cfg.Stream),
		logging.String("consumer", durable),
	)

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		fetchCtx, cancel := context.WithTimeout(ctx, fetchWait)
		msgs, err := sub.Fetch(fetchBatch, nats.Context(fetchCtx))
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			b.log.Warn(ctx, "fetch alert events failed", logging.Err(err))
			continue
		}

		for _, msg := range msgs {
			b.handle(ctx, msg, handler)
		}
	}
}

func (b *Bus) handle(ctx context.Context, msg *nats.Msg, handler events.Handler) {
	e, err := events.Decode(msg.Data)
	if err != nil {
		b.log.Warn(ctx, "dropping undecodable alert event",
			logging.String("subject", msg.Subject),
			logging.Err(err),
		)
		_ = msg.Term()
		return
	}
	if err := handler(ctx, e); err != nil {
		b.log.Warn(ctx, "alert event handler failed",
			logging.String("event_id", e.ID),
			logging.Err(err),
		)
		_ = msg.Nak()
		return
	}
	if err := msg.Ack(); err != nil {
		b.log.Warn(ctx, "ack alert event failed", logging.String("event_id", e.ID), logging.Err(err))
	}
}

// HealthCheck reports whether the connection is usable.
func (b *Bus) HealthCheck() error {
	if b == nil || b.nc == nil {
		return fmt.Errorf("nats connection not initialised")
	}
	if !b.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

// Close drains the connection.
func (b *Bus) Close() error {
	if b == nil || b.nc == nil {
		return nil
	}
	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
		return err
	}
	return nil
}

// Command alert-listener consumes alert events published by railfence on
// NATS JetStream or RabbitMQ and prints them, one per line.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/signalsfoundry/rail-geofence/internal/config"
	"github.com/signalsfoundry/rail-geofence/internal/events"
	"github.com/signalsfoundry/rail-geofence/internal/events/amqpbus"
	"github.com/signalsfoundry/rail-geofence/internal/events/natsbus"
	"github.com/signalsfoundry/rail-geofence/internal/logging"
	"github.com/signalsfoundry/rail-geofence/model"
)

// subscriber is the consuming side of both buses.
type subscriber interface {
	Subscribe(ctx context.Context, consumer string, handler events.Handler) error
	Close() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "alert-listener: %v\n", err)
		os.Exit(2)
	}

	bus := flag.String("bus", cfg.AlertBus, "broker to consume from (nats or amqp)")
	natsURL := flag.String("nats-url", cfg.NATSURL, "NATS server URL")
	amqpURL := flag.String("amqp-url", cfg.AMQPURL, "AMQP broker URL")
	consumer := flag.String("consumer", "alert-listener", "durable consumer or queue name")
	asJSON := flag.Bool("json", false, "print raw event JSON")
	flag.Parse()

	log := logging.New(cfg.Log)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sub, err := dial(*bus, *natsURL, *amqpURL, log)
	if err != nil {
		log.Error(ctx, "connect to alert bus", logging.Err(err))
		os.Exit(1)
	}
	defer sub.Close()

	p := &printer{out: os.Stdout, json: *asJSON}
	if err := sub.Subscribe(ctx, *consumer, p.Handle); err != nil {
		log.Error(ctx, "consume alert events", logging.Err(err))
		os.Exit(1)
	}
}

func dial(bus, natsURL, amqpURL string, log logging.Logger) (subscriber, error) {
	switch bus {
	case config.BusNATS, config.BusNATSEmbedded:
		return natsbus.Connect(natsbus.Config{URL: natsURL}, log)
	case config.BusAMQP:
		return amqpbus.Dial(amqpURL, amqpbus.Config{}, log)
	default:
		return nil, fmt.Errorf("unsupported bus %q: want nats or amqp", bus)
	}
}

// printer writes each event to out.
type printer struct {
	mu   sync.Mutex
	out  io.Writer
	json bool
}

func (p *printer) Handle(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.json {
		data, err := e.Encode()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(p.out, "%s\n", data)
		return err
	}
	_, err := fmt.Fprintln(p.out, format(e))
	return err
}

func format(e events.Event) string {
	ts := e.OccurredAt.Format("2006-01-02T15:04:05Z07:00")
	if e.Type == events.TypeAlertResolved {
		return fmt.Sprintf("%s RESOLVED %s %s (%d alerts)", ts, e.AlertType, e.Key, e.Resolved)
	}
	if e.Alert == nil {
		return fmt.Sprintf("%s RAISED %s %s", ts, e.AlertType, e.Key)
	}
	switch d := e.Alert.Detail.(type) {
	case *model.StationProximity:
		return fmt.Sprintf("%s RAISED station_proximity train=%s station=%s distance=%.3fkm id=%s",
			ts, e.Alert.TrainNumber, d.StationCode, d.DistanceKm, e.Alert.ID)
	case *model.Theft:
		return fmt.Sprintf("%s RAISED theft object=%s owner=%s train=%s coach=%s distance=%.3fkm id=%s",
			ts, d.ObjectID, d.OwnerID, e.Alert.TrainNumber, d.CoachID, d.DistanceKm, e.Alert.ID)
	default:
		return fmt.Sprintf("%s RAISED %s %s id=%s", ts, e.AlertType, e.Key, e.Alert.ID)
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/rail-geofence/core"
	"github.com/signalsfoundry/rail-geofence/internal/config"
	"github.com/signalsfoundry/rail-geofence/internal/events"
	"github.com/signalsfoundry/rail-geofence/internal/events/amqpbus"
	"github.com/signalsfoundry/rail-geofence/internal/events/natsbus"
	"github.com/signalsfoundry/rail-geofence/internal/httpapi"
	"github.com/signalsfoundry/rail-geofence/internal/logging"
	"github.com/signalsfoundry/rail-geofence/internal/observability"
	"github.com/signalsfoundry/rail-geofence/internal/rpc"
	"github.com/signalsfoundry/rail-geofence/internal/sim"
	"github.com/signalsfoundry/rail-geofence/internal/store/sqlite"
	"github.com/signalsfoundry/rail-geofence/kb"
	"github.com/signalsfoundry/rail-geofence/timectrl"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "railfence: %v\n", err)
		os.Exit(2)
	}
	log := logging.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, listeners{}); err != nil {
		log.Error(ctx, "railfence exited", logging.Err(err))
		os.Exit(1)
	}
}

// listeners lets tests hand in pre-bound sockets. Nil entries are bound from
// the configured addresses; an empty metrics address disables that server.
type listeners struct {
	grpc    net.Listener
	http    net.Listener
	metrics net.Listener
}

// appStore is what the server needs from a store backend.
type appStore interface {
	core.AdminStore
	sim.EntityCounter
}

// run wires every component and blocks until ctx is cancelled or a server
// fails.
func run(ctx context.Context, cfg config.Config, log logging.Logger, lis listeners) error {
	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	store, storeHealth, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := seed(ctx, cfg, store, log); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	apiMetrics, err := observability.NewAPICollector(reg)
	if err != nil {
		return fmt.Errorf("api metrics: %w", err)
	}
	geoMetrics, err := observability.NewGeofenceCollector(reg)
	if err != nil {
		return fmt.Errorf("geofence metrics: %w", err)
	}

	publishers, busHealth, closeBus, err := openBus(cfg, log)
	if err != nil {
		return err
	}
	defer closeBus()
	notifier := events.NewNotifier(publishers, events.WithLogger(log))

	geo := core.NewGeofenceService(store, cfg.Geofence,
		core.WithGeofenceLogger(log),
		core.WithAlertNotifier(notifier),
		core.WithGeofenceMetrics(geoMetrics),
	)
	motion := core.NewMotionSimulator(store, geo, cfg.Motion, newRand(cfg.RandomSeed), core.WithMotionLogger(log))
	alerts := core.NewAlertService(store,
		core.WithAlertServiceLogger(log),
		core.WithAlertServiceNotifier(notifier),
	)

	grpcLis, err := listenOr(lis.grpc, cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc %s: %w", cfg.GRPCAddr, err)
	}
	httpLis, err := listenOr(lis.http, cfg.HTTPAddr)
	if err != nil {
		_ = grpcLis.Close()
		return fmt.Errorf("listen http %s: %w", cfg.HTTPAddr, err)
	}

	grpcSrv := rpc.NewServer(rpc.ServerConfig{
		Motion:  motion,
		Alerts:  alerts,
		Log:     log,
		Metrics: apiMetrics.UnaryServerInterceptor(),
		Tracing: cfg.Tracing.Enabled,
	})

	gin.SetMode(gin.ReleaseMode)
	health := httpapi.NewHealthChecker().
		Add("store", storeHealth).
		Add("alert_bus", busHealth)
	httpSrv := &http.Server{
		Handler: httpapi.NewRouter(httpapi.Deps{
			Store:   store,
			Motion:  motion,
			Alerts:  alerts,
			Log:     log,
			Metrics: apiMetrics.GinMiddleware(),
			Health:  health,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	metricsSrv, err := serveMetrics(lis.metrics, cfg.MetricsAddr, apiMetrics, log)
	if err != nil {
		_ = grpcLis.Close()
		_ = httpLis.Close()
		return err
	}

	errCh := make(chan error, 3)
	go func() {
		log.Info(ctx, "serving gRPC", logging.String("addr", grpcLis.Addr().String()))
		if err := grpcSrv.Serve(grpcLis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	go func() {
		log.Info(ctx, "serving HTTP", logging.String("addr", httpLis.Addr().String()))
		if err := httpSrv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	simCtx, stopSim := context.WithCancel(ctx)
	simDone := make(chan struct{})
	if cfg.TickInterval > 0 {
		if cfg.Accelerated {
			log.Warn(ctx, "SIM_ACCELERATED is ignored by the server; raise SIM_TICK_SECONDS to speed up simulated time")
		}
		clock := timectrl.NewTimeController(time.Now(), cfg.TickInterval, timectrl.RealTime)
		runner := sim.NewRunner(motion, clock,
			sim.WithLogger(log),
			sim.WithTickMetrics(geoMetrics),
			sim.WithEntityGauges(store, apiMetrics),
		)
		go func() {
			defer close(simDone)
			if err := runner.Run(simCtx, 0); err != nil {
				errCh <- fmt.Errorf("simulation driver: %w", err)
			}
		}()
	} else {
		close(simDone)
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info(context.Background(), "shutting down")
	case runErr = <-errCh:
		log.Error(context.Background(), "component failed, shutting down", logging.Err(runErr))
	}

	stopSim()
	<-simDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	grpcSrv.Shutdown()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn(shutdownCtx, "http shutdown failed", logging.Err(err))
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return runErr
}

func openStore(ctx context.Context, cfg config.Config, log logging.Logger) (appStore, httpapi.HealthCheck, func(), error) {
	switch cfg.StoreDriver {
	case config.StoreSQLite:
		sqlCfg := sqlite.DefaultConfig()
		sqlCfg.Path = cfg.SQLitePath
		s, err := sqlite.Open(ctx, sqlCfg, log)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		log.Info(ctx, "using sqlite store", logging.String("path", sqlCfg.Path))
		return s, s.Health, func() { _ = s.Close() }, nil
	default:
		log.Info(ctx, "using in-memory store")
		return kb.NewKnowledgeBase(), func(context.Context) error { return nil }, func() {}, nil
	}
}

func seed(ctx context.Context, cfg config.Config, store core.AdminStore, log logging.Logger) error {
	if cfg.SeedScenario == config.SeedNone {
		return nil
	}

	var (
		src  io.Reader = core.DefaultScenario()
		name           = "embedded default"
	)
	if cfg.SeedScenario != "" {
		f, err := os.Open(cfg.SeedScenario)
		if err != nil {
			return fmt.Errorf("open scenario: %w", err)
		}
		defer f.Close()
		src, name = f, cfg.SeedScenario
	}

	sc, err := core.SeedScenario(ctx, store, src)
	if err != nil {
		return fmt.Errorf("seed scenario %s: %w", name, err)
	}
	log.Info(ctx, "scenario seeded",
		logging.String("source", name),
		logging.Int("stations", len(sc.StationCodes)),
		logging.Int("trains", len(sc.TrainNumbers)),
		logging.Int("objects", len(sc.ObjectIDs)),
		logging.Int("users", len(sc.UserIDs)),
	)
	return nil
}

// openBus connects the configured alert bus. With ALERT_BUS=none there are
// no publishers and the notifier only drops events.
func openBus(cfg config.Config, log logging.Logger) ([]events.Publisher, httpapi.HealthCheck, func(), error) {
	switch cfg.AlertBus {
	case config.BusNATS, config.BusNATSEmbedded:
		url := cfg.NATSURL
		var embedded *natsbus.Embedded
		if cfg.AlertBus == config.BusNATSEmbedded {
			ecfg := natsbus.DefaultEmbeddedConfig()
			ecfg.DataDir = cfg.NATSDataDir
			var err error
			if embedded, err = natsbus.StartEmbedded(ecfg); err != nil {
				return nil, nil, nil, fmt.Errorf("start embedded nats: %w", err)
			}
			url = embedded.ClientURL()
		}
		bus, err := natsbus.Connect(natsbus.Config{URL: url}, log)
		if err != nil {
			if embedded != nil {
				embedded.Shutdown()
			}
			return nil, nil, nil, err
		}
		closeFn := func() {
			_ = bus.Close()
			if embedded != nil {
				embedded.Shutdown()
			}
		}
		health := func(context.Context) error { return bus.HealthCheck() }
		return []events.Publisher{bus}, health, closeFn, nil

	case config.BusAMQP:
		bus, err := amqpbus.Dial(cfg.AMQPURL, amqpbus.Config{}, log)
		if err != nil {
			return nil, nil, nil, err
		}
		health := func(context.Context) error { return bus.HealthCheck() }
		return []events.Publisher{bus}, health, func() { _ = bus.Close() }, nil

	default:
		return nil, nil, func() {}, nil
	}
}

func listenOr(l net.Listener, addr string) (net.Listener, error) {
	if l != nil {
		return l, nil
	}
	return net.Listen("tcp", addr)
}

func serveMetrics(l net.Listener, addr string, collector *observability.APICollector, log logging.Logger) (*http.Server, error) {
	if l == nil {
		if addr == "" {
			return nil, nil
		}
		var err error
		if l, err = net.Listen("tcp", addr); err != nil {
			return nil, fmt.Errorf("listen metrics %s: %w", addr, err)
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", l.Addr().String()))
	return srv, nil
}

// newRand returns the simulator's random source. Seed 0 picks a time-based
// seed.
func newRand(seed uint64) *rand.Rand {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}
